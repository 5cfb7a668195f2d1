package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/deploybot-dev/deploybot/internal/app"
	"github.com/deploybot-dev/deploybot/internal/config"
	"github.com/deploybot-dev/deploybot/internal/engine"
	"github.com/deploybot-dev/deploybot/internal/logging"
	"github.com/deploybot-dev/deploybot/internal/pipeline"
)

const defaultLogLevel = "warning"

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	logger := logging.NewCLI(os.Stderr, &levelVar)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(logger, &levelVar)
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("command interrupted", "error", err)
			os.Exit(130)
		}
		logger.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func newRootCommand(logger *slog.Logger, levelVar *slog.LevelVar) *cobra.Command {
	logLevel := defaultLogLevel
	configPath := ""

	root := &cobra.Command{
		Use:           "deploybot",
		Short:         "Deploy uploaded bot projects into isolated containers and supervise them",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", defaultLogLevel, "Set log verbosity (debug, info, warning, error)")
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML configuration file")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := parseLogLevel(logLevel)
		if err != nil {
			return err
		}
		if levelVar != nil {
			levelVar.Set(level)
		}
		return nil
	}

	root.AddCommand(
		newDeployCommand(logger, &configPath),
		newListCommand(logger, &configPath),
		newStopCommand(logger, &configPath),
		newLogsCommand(logger, &configPath),
		newReconcileCommand(logger, &configPath),
	)
	return root
}

func buildApp(ctx context.Context, logger *slog.Logger, configPath string) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, logger)
}

func newDeployCommand(logger *slog.Logger, configPath *string) *cobra.Command {
	var (
		name  string
		owner string
	)

	cmd := &cobra.Command{
		Use:   "deploy <archive.zip>",
		Args:  cobra.ExactArgs(1),
		Short: "Validate, build and start an uploaded bot project",
		RunE: func(cmd *cobra.Command, args []string) error {
			archivePath := args[0]
			data, err := os.ReadFile(archivePath)
			if err != nil {
				return fmt.Errorf("read archive: %w", err)
			}

			if name == "" {
				base := filepath.Base(archivePath)
				name = strings.TrimSuffix(base, filepath.Ext(base))
			}

			orchestrator, err := buildApp(cmd.Context(), logger, *configPath)
			if err != nil {
				return err
			}

			receipt, err := orchestrator.Pipeline.Deploy(cmd.Context(), pipeline.Submission{
				Archive: data,
				Name:    name,
				Owner:   owner,
			})
			if err != nil {
				var buildErr *engine.BuildError
				if errors.As(err, &buildErr) && buildErr.Log != "" {
					fmt.Fprintln(cmd.ErrOrStderr(), buildErr.Log)
				}
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "deployed %s as instance %s (image %s)\n",
				receipt.DeploymentName, receipt.InstanceID, receipt.ImageTag)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Deployment name (defaults to the archive filename)")
	cmd.Flags().StringVar(&owner, "owner", "", "Owner identity recorded on the instance")
	return cmd
}

func newListCommand(logger *slog.Logger, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			orchestrator, err := buildApp(cmd.Context(), logger, *configPath)
			if err != nil {
				return err
			}

			views := orchestrator.Supervisor.List()
			if len(views) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no active instances")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tINSTANCE\tOWNER\tSTATUS\tUPTIME")
			for _, view := range views {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					view.DeploymentName, view.ID, view.Owner, view.Status,
					view.Uptime.Round(time.Second))
			}
			return w.Flush()
		},
	}
}

func newStopCommand(logger *slog.Logger, configPath *string) *cobra.Command {
	var requester string

	cmd := &cobra.Command{
		Use:   "stop <instance-id|name>",
		Args:  cobra.ExactArgs(1),
		Short: "Stop a running instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			orchestrator, err := buildApp(cmd.Context(), logger, *configPath)
			if err != nil {
				return err
			}
			if err := orchestrator.Supervisor.Stop(cmd.Context(), args[0], requester); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stopped %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&requester, "requester", "", "Identity requesting the stop")
	return cmd
}

func newLogsCommand(logger *slog.Logger, configPath *string) *cobra.Command {
	var (
		requester string
		tail      int
	)

	cmd := &cobra.Command{
		Use:   "logs <instance-id|name>",
		Args:  cobra.ExactArgs(1),
		Short: "Fetch the trailing log output of an instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			orchestrator, err := buildApp(cmd.Context(), logger, *configPath)
			if err != nil {
				return err
			}
			out, err := orchestrator.Supervisor.Logs(cmd.Context(), args[0], requester, tail)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().StringVar(&requester, "requester", "", "Identity requesting the logs")
	cmd.Flags().IntVar(&tail, "tail", 200, "Number of trailing log lines")
	return cmd
}

func newReconcileCommand(logger *slog.Logger, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Cross-check the registry against the engine's running units",
		RunE: func(cmd *cobra.Command, args []string) error {
			orchestrator, err := buildApp(cmd.Context(), logger, *configPath)
			if err != nil {
				return err
			}
			reconciled, err := orchestrator.Supervisor.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reconciled %d instance(s)\n", reconciled)
			return nil
		},
	}
}

func parseLogLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warning", "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", value)
	}
}
