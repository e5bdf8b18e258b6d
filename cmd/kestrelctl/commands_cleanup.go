package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kestrelflow/engine/pkg/checkpoints"
	"github.com/kestrelflow/engine/pkg/cleanup"
	"github.com/kestrelflow/engine/pkg/config"
	"github.com/kestrelflow/engine/pkg/engine"
)

// newCleanupCmd runs a single retention pass over terminal runs past
// engine.yaml's run_retention_days, without needing the rest of the engine's
// dependency graph (dispatcher, budget ledger, etc.) wired up.
func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "prune on-disk storage for terminal runs past their retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if err := config.LoadDotEnv(filepath.Join(flagConfigDir, ".env")); err != nil {
				return err
			}
			cfg, err := config.Initialize(ctx, flagConfigDir, flagClientID)
			if err != nil {
				return err
			}

			runsDir := filepath.Join(cfg.Engine.DataDir, "runs")
			runStore, err := engine.NewFSRunStore(runsDir)
			if err != nil {
				return err
			}
			intakeStore, err := engine.NewFSIntakeStore(runsDir)
			if err != nil {
				return err
			}
			cpBackend, err := checkpoints.NewFSBackend(filepath.Join(cfg.Engine.DataDir, "checkpoints"))
			if err != nil {
				return err
			}

			svc := cleanup.NewService(cleanup.Config{
				RunRetentionDays: cfg.Engine.RunRetentionDays,
				CleanupInterval:  cfg.Engine.CleanupInterval,
			}, runStore, runStore, intakeStore, cpBackend)

			pruned := svc.RunOnce(ctx)
			return printJSON(map[string]any{"pruned_runs": pruned})
		},
	}
}
