package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newApproveCmd() *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Approve a run awaiting consensus and advance to the next phase",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := buildEngine(flagConfigDir, flagClientID)
			if err != nil {
				return err
			}
			if err := eng.Approve(cmd.Context(), runID); err != nil {
				return err
			}
			return printJSON(map[string]string{"run_id": runID, "result": "approved"})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id (required)")
	_ = cmd.MarkFlagRequired("run")
	return cmd
}

func newRejectCmd() *cobra.Command {
	var runID, reason string
	cmd := &cobra.Command{
		Use:   "reject",
		Short: "Reject a run awaiting consensus, holding it at the post-gate",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := buildEngine(flagConfigDir, flagClientID)
			if err != nil {
				return err
			}
			if err := eng.Reject(cmd.Context(), runID, reason); err != nil {
				return err
			}
			return printJSON(map[string]string{"run_id": runID, "result": "rejected"})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id (required)")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded as the run's failure_reason")
	_ = cmd.MarkFlagRequired("run")
	return cmd
}

func newRetryCmd() *cobra.Command {
	var runID, phase, agent string
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Retry a paused phase, optionally scoped to a single agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := buildEngine(flagConfigDir, flagClientID)
			if err != nil {
				return err
			}
			if err := eng.Retry(cmd.Context(), runID, phase, agent); err != nil {
				return err
			}
			return printJSON(map[string]string{"run_id": runID, "result": "ready_to_retry"})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id (required)")
	cmd.Flags().StringVar(&phase, "phase", "", "phase name to retry (required)")
	cmd.Flags().StringVar(&agent, "agent", "", "replay only this agent id instead of the full roster")
	_ = cmd.MarkFlagRequired("run")
	_ = cmd.MarkFlagRequired("phase")
	return cmd
}

func newRollbackCmd() *cobra.Command {
	var runID, checkpointID string
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Roll a run back to a prior checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := buildEngine(flagConfigDir, flagClientID)
			if err != nil {
				return err
			}
			if err := eng.Rollback(cmd.Context(), runID, checkpointID); err != nil {
				return err
			}
			return printJSON(map[string]string{"run_id": runID, "result": "rolled_back", "checkpoint_id": checkpointID})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id (required)")
	cmd.Flags().StringVar(&checkpointID, "checkpoint", "", "target checkpoint id (required)")
	_ = cmd.MarkFlagRequired("run")
	_ = cmd.MarkFlagRequired("checkpoint")
	return cmd
}

func newAbortCmd() *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "abort",
		Short: "Terminate a non-terminal run",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := buildEngine(flagConfigDir, flagClientID)
			if err != nil {
				return err
			}
			if err := eng.Abort(cmd.Context(), runID); err != nil {
				return err
			}
			return printJSON(map[string]string{"run_id": runID, "result": "aborted"})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id (required)")
	_ = cmd.MarkFlagRequired("run")
	return cmd
}

func newResumeCmd() *cobra.Command {
	var runID string
	var all bool
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Rehydrate one run, or scan and rehydrate every in-flight run",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := buildEngine(flagConfigDir, flagClientID)
			if err != nil {
				return err
			}
			if all {
				resumed, err := eng.StartupScan(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"resumed": resumed})
			}
			if runID == "" {
				return fmt.Errorf("kestrelctl: --run is required unless --all is set")
			}
			if err := eng.Resume(cmd.Context(), runID); err != nil {
				return err
			}
			return printJSON(map[string]string{"run_id": runID, "result": "resumed"})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id")
	cmd.Flags().BoolVar(&all, "all", false, "scan every running/awaiting_consensus run and resume each")
	return cmd
}
