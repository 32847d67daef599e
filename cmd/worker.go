package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/list-enricher/internal/monitoring"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the enrichment and automation workers without the API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "worker")
		if err != nil {
			return err
		}
		defer env.Close()

		g, gctx := errgroup.WithContext(ctx)
		startWorkers(gctx, g, env)
		return g.Wait()
	},
}

// startWorkers runs the loops enabled in config until ctx is cancelled.
func startWorkers(ctx context.Context, g *errgroup.Group, env *appEnv) {
	if cfg.Worker.EnrichmentEnabled {
		g.Go(func() error {
			zap.L().Info("enrichment worker started",
				zap.Duration("interval", cfg.Worker.Interval),
				zap.Int("batch_size", cfg.Worker.BatchSize),
			)
			return env.Worker.Run(ctx)
		})
	}
	if cfg.Worker.AutomationEnabled {
		g.Go(func() error {
			zap.L().Info("automation engine started",
				zap.Duration("interval", cfg.Worker.Interval),
				zap.Int("max_concurrent", cfg.Worker.MaxConcurrentExecutions),
			)
			return env.Automations.Run(ctx)
		})
	}
	if cfg.Monitoring.WebhookURL != "" {
		checker := monitoring.NewChecker(env.Monitor, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
		g.Go(func() error { return checker.Run(ctx) })
	}
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
