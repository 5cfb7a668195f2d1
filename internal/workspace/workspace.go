// Package workspace materializes validated archives into isolated project
// directories and guarantees each one carries a build descriptor.
package workspace

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/deploybot-dev/deploybot/internal/archive"
)

// Materialization failure reasons.
var (
	ErrExtraction          = errors.New("extracting archive into workspace failed")
	ErrDescriptorSynthesis = errors.New("synthesizing build descriptor failed")
)

// DescriptorFile is the build descriptor the isolation layer consumes.
const DescriptorFile = "Dockerfile"

// Workspace is a project directory materialized from a single submission.
// Each deploy attempt gets a fresh directory; workspaces are never reused.
type Workspace struct {
	Path           string
	DeploymentName string
	EntryPoint     string

	HasDescriptor   bool
	HasRequirements bool
	HasPyProject    bool
}

// Materialize allocates a fresh directory under baseDir and extracts the
// validated archive into it. The directory name combines the deployment name
// with a uniqueness token so concurrent or repeated attempts never collide.
func Materialize(baseDir, deploymentName string, a *archive.Archive) (*Workspace, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create base directory: %v", ErrExtraction, err)
	}

	token := strings.Split(uuid.New().String(), "-")[0]
	dir := filepath.Join(baseDir, fmt.Sprintf("%s-%s", deploymentName, token))
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: allocate workspace directory: %v", ErrExtraction, err)
	}

	ws := &Workspace{
		Path:           dir,
		DeploymentName: deploymentName,
		EntryPoint:     a.EntryPoint,
	}
	if err := extractInto(dir, a); err != nil {
		removeErr := ws.Remove()
		return nil, errors.Join(err, removeErr)
	}

	ws.HasDescriptor = fileExists(filepath.Join(dir, DescriptorFile))
	ws.HasRequirements = fileExists(filepath.Join(dir, "requirements.txt"))
	ws.HasPyProject = fileExists(filepath.Join(dir, "pyproject.toml"))
	return ws, nil
}

// Remove deletes the workspace directory tree. Safe to call more than once.
func (w *Workspace) Remove() error {
	if w == nil || w.Path == "" {
		return nil
	}
	if err := os.RemoveAll(w.Path); err != nil {
		return fmt.Errorf("remove workspace %s: %w", w.Path, err)
	}
	return nil
}

func extractInto(dir string, a *archive.Archive) error {
	for _, file := range a.Files() {
		name := strings.Trim(strings.ReplaceAll(file.Name, `\`, "/"), "/")
		if name == "" {
			continue
		}
		target := filepath.Join(dir, filepath.FromSlash(name))

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("%w: create directory %s: %v", ErrExtraction, name, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("%w: create parent of %s: %v", ErrExtraction, name, err)
		}
		if err := writeEntry(target, file.Open, file.Mode().Perm()); err != nil {
			return fmt.Errorf("%w: write %s: %v", ErrExtraction, name, err)
		}
	}
	return nil
}

func writeEntry(target string, open func() (io.ReadCloser, error), perm os.FileMode) error {
	src, err := open()
	if err != nil {
		return err
	}
	defer src.Close()

	if perm == 0 {
		perm = 0o644
	}
	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
