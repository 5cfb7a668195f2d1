// Package engine defines the boundary to the isolation layer that builds
// images and runs instances. Orchestration code depends only on the Engine
// interface so the concrete runtime stays swappable.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// UnitHandle identifies a running unit managed by the isolation layer.
type UnitHandle struct {
	ID   string
	Name string
}

// BuildResult is the outcome of a successful image build.
type BuildResult struct {
	ImageID string
	Log     string
}

// RunOptions carry runtime constraints applied when launching a unit.
type RunOptions struct {
	MemoryLimit   string
	CPULimit      string
	RestartPolicy string
	ExtraArgs     []string
}

// Engine is the contract the isolation layer must satisfy.
type Engine interface {
	// Build produces an image from the workspace's build descriptor,
	// tagging it with the provided tag.
	Build(ctx context.Context, workspacePath, tag string) (BuildResult, error)
	// Run launches a detached unit from the image under the given name.
	Run(ctx context.Context, imageID, name string, opts RunOptions) (UnitHandle, error)
	// Terminate stops the unit, waiting up to grace before forcing, and
	// removes it. Terminating an already-gone unit is not an error.
	Terminate(ctx context.Context, unit UnitHandle, grace time.Duration) error
	// ListRunning reports the units currently alive in the isolation layer.
	ListRunning(ctx context.Context) ([]UnitHandle, error)
	// Logs fetches the last tail lines of a unit's output.
	Logs(ctx context.Context, unit UnitHandle, tail int) (string, error)
}

// ErrLaunchFailed tags failures to start a unit from a built image.
var ErrLaunchFailed = errors.New("launching instance failed")

// BuildError carries the captured build output so the submitter sees the real
// compile or install failure rather than a generic message.
type BuildError struct {
	Log   string
	cause error
}

// NewBuildError wraps the underlying failure together with the build log.
func NewBuildError(cause error, log string) *BuildError {
	return &BuildError{Log: log, cause: cause}
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("image build failed: %v", e.cause)
}

func (e *BuildError) Unwrap() error {
	return e.cause
}
