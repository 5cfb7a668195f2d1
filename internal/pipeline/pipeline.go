// Package pipeline coordinates a single submission through validation,
// materialization, image build and instance start.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/deploybot-dev/deploybot/internal/archive"
	"github.com/deploybot-dev/deploybot/internal/builder"
	"github.com/deploybot-dev/deploybot/internal/supervisor"
	"github.com/deploybot-dev/deploybot/internal/workspace"
)

// Submission is the transient input handed over by the front-end: raw archive
// bytes plus the requested deployment name and owner identity.
type Submission struct {
	Archive []byte
	Name    string
	Owner   string
}

// Receipt reports a successful deployment.
type Receipt struct {
	InstanceID     string
	DeploymentName string
	ImageTag       string
	Synthesized    bool
}

// Pipeline sequences the deployment stages. A failure at any stage aborts the
// rest, cleans up the workspace created for the attempt and surfaces the
// originating stage's error unchanged.
type Pipeline struct {
	Logger     *slog.Logger
	Builder    *builder.ImageBuilder
	Supervisor *supervisor.Supervisor

	// BaseDir is where workspaces are materialized.
	BaseDir string
	// EntryPoint names the file that must sit at the archive root.
	EntryPoint string
	// BaseImage is used when a build descriptor has to be synthesized.
	BaseImage string
	// KeepWorkspace retains the workspace after a successful deploy.
	KeepWorkspace bool
}

// Deploy drives one submission end to end and returns the new instance's
// identifier. Workspace cleanup runs on every failure path.
func (p *Pipeline) Deploy(ctx context.Context, sub Submission) (Receipt, error) {
	name, err := SanitizeName(sub.Name)
	if err != nil {
		return Receipt{}, err
	}

	logger := p.logger().With("deployment", name, "owner", sub.Owner)

	if p.Supervisor.Registry.NameActive(name) {
		// Fast path only; Start re-checks atomically.
		return Receipt{}, fmt.Errorf("%w: %s", supervisor.ErrNameActive, name)
	}

	validated, err := archive.Validate(sub.Archive, p.EntryPoint)
	if err != nil {
		logger.Warn("archive rejected", "error", err)
		return Receipt{}, err
	}

	ws, err := workspace.Materialize(p.BaseDir, name, validated)
	if err != nil {
		logger.Error("workspace materialization failed", "error", err)
		return Receipt{}, err
	}

	deployed := false
	defer func() {
		if deployed && p.KeepWorkspace {
			return
		}
		if removeErr := ws.Remove(); removeErr != nil {
			logger.Warn("workspace cleanup failed", "error", removeErr)
		}
	}()

	synthesized, err := workspace.EnsureDescriptor(ws, p.BaseImage)
	if err != nil {
		logger.Error("descriptor synthesis failed", "error", err)
		return Receipt{}, err
	}
	if synthesized {
		logger.Info("no build descriptor in archive, synthesized default")
	}

	image, err := p.Builder.Build(ctx, ws)
	if err != nil {
		return Receipt{}, err
	}

	instanceID, err := p.Supervisor.Start(ctx, image, name, sub.Owner)
	if err != nil {
		return Receipt{}, err
	}

	deployed = true
	logger.Info("deployment complete", "instance", instanceID, "image", image.Tag)
	return Receipt{
		InstanceID:     instanceID,
		DeploymentName: name,
		ImageTag:       image.Tag,
		Synthesized:    synthesized,
	}, nil
}

func (p *Pipeline) logger() *slog.Logger {
	if p != nil && p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// ErrInvalidName rejects deployment names that sanitize to nothing.
var ErrInvalidName = errors.New("deployment name is empty after sanitization")
