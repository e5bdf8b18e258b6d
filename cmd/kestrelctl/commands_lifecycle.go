package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kestrelflow/engine/pkg/engine"
	"github.com/kestrelflow/engine/pkg/intake"
	"github.com/kestrelflow/engine/pkg/models"
)

type startFlags struct {
	intakeFile string
	profile    string
	mode       string
}

func newStartCmd() *cobra.Command {
	flags := &startFlags{}
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a new run from an intake document",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, flags)
		},
	}
	cmd.Flags().StringVarP(&flags.intakeFile, "intake", "i", "", "path to a YAML or JSON intake document (required)")
	cmd.Flags().StringVar(&flags.profile, "profile", "", "override the profile named in the intake document")
	cmd.Flags().StringVar(&flags.mode, "mode", string(models.ExecutionModeDirect), "execution mode: direct|sandboxed")
	_ = cmd.MarkFlagRequired("intake")
	return cmd
}

func runStart(cmd *cobra.Command, flags *startFlags) error {
	data, err := os.ReadFile(flags.intakeFile)
	if err != nil {
		return fmt.Errorf("kestrelctl: read intake file: %w", err)
	}
	loaded, err := intake.Load(data)
	if err != nil {
		return err
	}

	eng, _, err := buildEngine(flagConfigDir, flagClientID)
	if err != nil {
		return err
	}

	profile := models.Profile(flags.profile)
	runID, err := eng.Start(cmd.Context(), loaded.Intake, profile, models.ExecutionMode(flags.mode))
	if err != nil {
		return err
	}
	return printJSON(map[string]string{"run_id": runID})
}

func newNextCmd() *cobra.Command {
	var runID string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Advance a run through its next phase",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cfg, err := buildEngine(flagConfigDir, flagClientID)
			if err != nil {
				return err
			}
			effectiveTimeout := timeout
			if effectiveTimeout <= 0 {
				effectiveTimeout = cfg.Engine.AgentTimeout
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), effectiveTimeout)
			defer cancel()

			outcome, err := eng.Next(ctx, runID, engine.NextOptions{
				ConcurrencyLimit: cfg.Engine.ConcurrencyLimit,
				RetryBudget:      cfg.Engine.RetryBudget,
				Timeout:          cfg.Engine.AgentTimeout,
			})
			if err != nil {
				return err
			}
			return printJSON(outcome)
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id (required)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "overall phase timeout (0 = use engine.yaml's agent_timeout)")
	_ = cmd.MarkFlagRequired("run")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print a run's current state and recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := buildEngine(flagConfigDir, flagClientID)
			if err != nil {
				return err
			}
			summary, err := eng.Status(cmd.Context(), runID)
			if err != nil {
				return err
			}
			return printJSON(summary)
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id (required)")
	_ = cmd.MarkFlagRequired("run")
	return cmd
}

func newMetricsCmd() *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Print a run's token/cost budget breakdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := buildEngine(flagConfigDir, flagClientID)
			if err != nil {
				return err
			}
			return printJSON(eng.Metrics(runID))
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id (required)")
	_ = cmd.MarkFlagRequired("run")
	return cmd
}
