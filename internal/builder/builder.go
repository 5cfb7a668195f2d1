// Package builder turns materialized workspaces into runnable images.
package builder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/deploybot-dev/deploybot/internal/engine"
	"github.com/deploybot-dev/deploybot/internal/workspace"
)

// DefaultTimeout bounds a single image build.
const DefaultTimeout = 5 * time.Minute

// DefaultTagPrefix namespaces images produced by this tool.
const DefaultTagPrefix = "deploybot"

// Image is a built, runnable artifact. Immutable once built.
type Image struct {
	ID             string
	Tag            string
	DeploymentName string
	BuiltAt        time.Time
	BuildLog       string
}

// ImageBuilder invokes the isolation layer's build procedure against a
// workspace's build descriptor. Build failures carry the captured log and are
// never retried: a failing build is a content problem, not a transient fault.
type ImageBuilder struct {
	Logger    *slog.Logger
	Engine    engine.Engine
	Timeout   time.Duration
	TagPrefix string
}

// Build produces an image from the workspace, tagged with the deployment name
// and a build-time token.
func (b *ImageBuilder) Build(ctx context.Context, ws *workspace.Workspace) (Image, error) {
	if b.Engine == nil {
		return Image{}, fmt.Errorf("image builder has no engine configured")
	}

	timeout := b.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	prefix := b.TagPrefix
	if prefix == "" {
		prefix = DefaultTagPrefix
	}

	token := strings.Split(uuid.New().String(), "-")[0]
	tag := fmt.Sprintf("%s/%s:%s", prefix, ws.DeploymentName, token)

	logger := b.logger().With("deployment", ws.DeploymentName, "tag", tag)
	logger.Info("building image", "workspace", ws.Path)

	buildCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := b.Engine.Build(buildCtx, ws.Path, tag)
	if err != nil {
		logger.Error("image build failed", "error", err)
		return Image{}, err
	}

	logger.Info("image built")
	return Image{
		ID:             result.ImageID,
		Tag:            tag,
		DeploymentName: ws.DeploymentName,
		BuiltAt:        time.Now().UTC(),
		BuildLog:       result.Log,
	}, nil
}

func (b *ImageBuilder) logger() *slog.Logger {
	if b != nil && b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}
