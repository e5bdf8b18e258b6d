// Command kestrelctl is the operator CLI for the KestrelFlow run engine
// It wires an Engine against a config directory and exposes
// the run lifecycle -- start, next, status, approve, reject, retry,
// rollback, abort, resume, metrics -- as subcommands.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kestrelflow/engine/pkg/artifacts"
	"github.com/kestrelflow/engine/pkg/budget"
	"github.com/kestrelflow/engine/pkg/checkpoints"
	"github.com/kestrelflow/engine/pkg/config"
	"github.com/kestrelflow/engine/pkg/dispatcher"
	"github.com/kestrelflow/engine/pkg/engine"
	"github.com/kestrelflow/engine/pkg/events"
	"github.com/kestrelflow/engine/pkg/governance"
	"github.com/kestrelflow/engine/pkg/masking"
	"github.com/kestrelflow/engine/pkg/models"
	"github.com/kestrelflow/engine/pkg/version"
)

// Global (root-level) flag variables
var (
	flagConfigDir string
	flagClientID  string
	flagVerbose   bool
	flagDebug     bool
)

func main() {
	root := newRootCmd()
	root.SilenceUsage = true
	root.SilenceErrors = true

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kestrelctl",
		Short: "KestrelFlow run engine CLI",
		Long: strings.TrimSpace(`
kestrelctl drives a KestrelFlow run: it starts runs from an intake
document, advances them phase by phase, and answers the governance
prompts (consensus approval, post-gate retry/rollback) an operator is
asked to resolve along the way.`),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			initLogging()
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "./config", "directory containing engine.yaml and policies/")
	cmd.PersistentFlags().StringVar(&flagClientID, "client", "", "client id selecting the policies/clients/<id>.yaml overlay")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose (info) logging")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging (overrides --verbose)")
	cmd.Version = version.Full()

	cmd.AddCommand(newStartCmd())
	cmd.AddCommand(newNextCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newApproveCmd())
	cmd.AddCommand(newRejectCmd())
	cmd.AddCommand(newRetryCmd())
	cmd.AddCommand(newRollbackCmd())
	cmd.AddCommand(newAbortCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newMetricsCmd())
	cmd.AddCommand(newCleanupCmd())

	return cmd
}

func initLogging() {
	var level slog.Level
	switch {
	case flagDebug:
		level = slog.LevelDebug
	case flagVerbose:
		level = slog.LevelInfo
	default:
		level = slog.LevelWarn
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// unimplementedRoleHandler is the Engine's DefaultHandler: kestrelctl ships
// no concrete agent/LLM integration, so any
// role without an explicit override in a future build fails loudly rather
// than silently fabricating output.
func unimplementedRoleHandler(_ context.Context, req models.AgentRequest, _ dispatcher.AgentInput) (dispatcher.RoleOutput, error) {
	return dispatcher.RoleOutput{}, fmt.Errorf("kestrelctl: no role handler configured for role %q; wire one via engine.Deps.Handlers", req.Role)
}

// buildEngine loads configuration from configDir and assembles a fully
// wired Engine over the filesystem-backed stores rooted at the resolved
// data directory.
func buildEngine(configDir, clientID string) (*engine.Engine, *config.Config, error) {
	ctx := context.Background()

	if err := config.LoadDotEnv(filepath.Join(configDir, ".env")); err != nil {
		return nil, nil, err
	}

	cfg, err := config.Initialize(ctx, configDir, clientID)
	if err != nil {
		return nil, nil, err
	}

	runsDir := filepath.Join(cfg.Engine.DataDir, "runs")
	runStore, err := engine.NewFSRunStore(runsDir)
	if err != nil {
		return nil, nil, err
	}
	intakeStore, err := engine.NewFSIntakeStore(runsDir)
	if err != nil {
		return nil, nil, err
	}

	blobStore, err := artifacts.NewFSBlobStore(filepath.Join(cfg.Engine.DataDir, "blobs"))
	if err != nil {
		return nil, nil, err
	}
	blobs := artifacts.NewStore(blobStore)

	cpBackend, err := checkpoints.NewFSBackend(filepath.Join(cfg.Engine.DataDir, "checkpoints"))
	if err != nil {
		return nil, nil, err
	}
	cpStore := checkpoints.NewStore(cpBackend, blobs)

	bus := events.NewBus(cfg.Engine.SubscriberBufferSize)
	ledger := budget.NewLedger(bus, budget.NewMetrics())
	disp := dispatcher.New(ledger, blobs, bus)
	disp.Redactor = masking.NewRedactor(cfg.Engine.MaskingPatterns)
	audit := governance.NewAuditLog()

	eng := engine.New(engine.Deps{
		Runs:           runStore,
		Intakes:        intakeStore,
		Checkpoints:    cpStore,
		Artifacts:      blobs,
		Budget:         ledger,
		Events:         bus,
		Audit:          audit,
		Dispatcher:     disp,
		Policy:         cfg.Policy,
		DefaultHandler: unimplementedRoleHandler,
		Options: engine.Options{
			ConcurrencyLimit: cfg.Engine.ConcurrencyLimit,
			RetryBudget:      cfg.Engine.RetryBudget,
			AgentTimeout:     cfg.Engine.AgentTimeout,
		},
	})

	return eng, cfg, nil
}

// printJSON writes v to stdout as indented JSON, the CLI's uniform
// machine-readable output shape for all query-style commands.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("kestrelctl: encode output: %w", err)
	}
	_, err = os.Stdout.Write(append(data, '\n'))
	return err
}
