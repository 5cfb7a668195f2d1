package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

var _ Engine = (*DockerEngine)(nil)

// DockerEngine drives a local Docker daemon through its CLI.
type DockerEngine struct {
	// Binary is the docker executable, "docker" when empty.
	Binary string
	Logger *slog.Logger
}

func (e *DockerEngine) binary() string {
	if e != nil && e.Binary != "" {
		return e.Binary
	}
	return "docker"
}

func (e *DockerEngine) logger() *slog.Logger {
	if e != nil && e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Build runs `docker build` inside the workspace and captures the full build
// output for diagnostics on both success and failure.
func (e *DockerEngine) Build(ctx context.Context, workspacePath, tag string) (BuildResult, error) {
	args := buildArgs(tag)
	e.logger().Debug("running engine build", "tag", tag, "dir", workspacePath)

	cmd := exec.CommandContext(ctx, e.binary(), args...)
	cmd.Dir = workspacePath
	out, err := cmd.CombinedOutput()
	log := string(out)
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("build timed out: %w", ctx.Err())
		}
		return BuildResult{}, NewBuildError(err, log)
	}
	return BuildResult{ImageID: tag, Log: log}, nil
}

// Run launches a detached container from the image.
func (e *DockerEngine) Run(ctx context.Context, imageID, name string, opts RunOptions) (UnitHandle, error) {
	args := runArgs(imageID, name, opts)
	e.logger().Debug("running engine run", "image", imageID, "name", name)

	out, err := e.output(ctx, args...)
	if err != nil {
		return UnitHandle{}, fmt.Errorf("%w: %v: %s", ErrLaunchFailed, err, strings.TrimSpace(out))
	}
	return UnitHandle{ID: strings.TrimSpace(out), Name: name}, nil
}

// Terminate stops the unit gracefully within grace, then removes it by force.
// A missing unit is treated as already terminated.
func (e *DockerEngine) Terminate(ctx context.Context, unit UnitHandle, grace time.Duration) error {
	ref := unit.ID
	if ref == "" {
		ref = unit.Name
	}

	seconds := int(grace / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	out, err := e.output(ctx, "stop", "--time", strconv.Itoa(seconds), ref)
	if err != nil && !isMissingUnit(out) {
		e.logger().Warn("graceful stop failed, forcing removal", "unit", ref, "error", err)
	}

	out, err = e.output(ctx, "rm", "--force", ref)
	if err != nil && !isMissingUnit(out) {
		return fmt.Errorf("remove unit %s: %w: %s", ref, err, strings.TrimSpace(out))
	}
	return nil
}

// ListRunning reports live containers as unit handles.
func (e *DockerEngine) ListRunning(ctx context.Context) ([]UnitHandle, error) {
	out, err := e.output(ctx, "ps", "--no-trunc", "--format", "{{.ID}}\t{{.Names}}")
	if err != nil {
		return nil, fmt.Errorf("list running units: %w: %s", err, strings.TrimSpace(out))
	}

	var units []UnitHandle
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		id, name, _ := strings.Cut(line, "\t")
		units = append(units, UnitHandle{ID: id, Name: name})
	}
	return units, nil
}

// Logs fetches the trailing log lines of a unit.
func (e *DockerEngine) Logs(ctx context.Context, unit UnitHandle, tail int) (string, error) {
	ref := unit.ID
	if ref == "" {
		ref = unit.Name
	}
	if tail <= 0 {
		tail = 200
	}
	out, err := e.output(ctx, "logs", "--tail", strconv.Itoa(tail), ref)
	if err != nil {
		return "", fmt.Errorf("fetch logs for %s: %w: %s", ref, err, strings.TrimSpace(out))
	}
	return out, nil
}

func (e *DockerEngine) output(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, e.binary(), args...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

func buildArgs(tag string) []string {
	return []string{"build", "--tag", tag, "."}
}

func runArgs(imageID, name string, opts RunOptions) []string {
	args := []string{"run", "--detach", "--name", name}
	if opts.RestartPolicy != "" {
		args = append(args, "--restart", opts.RestartPolicy)
	}
	if opts.MemoryLimit != "" {
		args = append(args, "--memory", opts.MemoryLimit)
	}
	if opts.CPULimit != "" {
		args = append(args, "--cpus", opts.CPULimit)
	}
	args = append(args, opts.ExtraArgs...)
	return append(args, imageID)
}

func isMissingUnit(out string) bool {
	return strings.Contains(strings.ToLower(out), "no such container")
}
