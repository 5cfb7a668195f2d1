// Package app wires the configured stack: engine, builder, supervisor and
// pipeline, ready for the CLI (or any other front-end) to drive.
package app

import (
	"context"
	"log/slog"

	"github.com/deploybot-dev/deploybot/internal/builder"
	"github.com/deploybot-dev/deploybot/internal/config"
	"github.com/deploybot-dev/deploybot/internal/engine"
	"github.com/deploybot-dev/deploybot/internal/logging"
	"github.com/deploybot-dev/deploybot/internal/pipeline"
	"github.com/deploybot-dev/deploybot/internal/supervisor"
)

// App is the assembled orchestrator.
type App struct {
	Config     config.Config
	Pipeline   *pipeline.Pipeline
	Supervisor *supervisor.Supervisor
}

// New assembles the orchestrator from the configuration and restores the
// registry from persisted instance records, reconciled against the engine.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	logger = logging.Ensure(logger)

	eng := &engine.DockerEngine{
		Binary: cfg.EngineBinary,
		Logger: logger.With("component", "engine"),
	}

	sup := supervisor.New(
		eng,
		config.NewStaticAuthorizer(cfg.Admins),
		&supervisor.LocalInstanceRepository{BaseDir: cfg.RecordDir},
		logger.With("component", "supervisor"),
	)
	sup.StartTimeout = cfg.StartTimeout()
	sup.StopTimeout = cfg.StopTimeout()
	sup.StopGrace = cfg.StopGrace()
	sup.RunOptions = engine.RunOptions{
		MemoryLimit:   cfg.MemoryLimit,
		CPULimit:      cfg.CPULimit,
		RestartPolicy: cfg.RestartPolicy,
		ExtraArgs:     cfg.ExtraRunArgs,
	}

	if err := sup.Restore(ctx); err != nil {
		logger.Warn("registry restore incomplete", "error", err)
	}

	pipe := &pipeline.Pipeline{
		Logger: logger.With("component", "pipeline"),
		Builder: &builder.ImageBuilder{
			Logger:    logger.With("component", "builder"),
			Engine:    eng,
			Timeout:   cfg.BuildTimeout(),
			TagPrefix: cfg.TagPrefix,
		},
		Supervisor:    sup,
		BaseDir:       cfg.BaseDir,
		EntryPoint:    cfg.EntryPoint,
		BaseImage:     cfg.BaseImage,
		KeepWorkspace: cfg.KeepWorkspaces,
	}

	return &App{Config: cfg, Pipeline: pipe, Supervisor: sup}, nil
}
