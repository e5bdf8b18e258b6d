// Package engine implements the run engine / state machine
// §4.J): the central coordinator that drives a Run through its phase
// graph, invoking the planner and swarm executor at each phase, gating
// transitions through the governance engine, and persisting every
// transition as a checkpoint before it is reported to observers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kestrelflow/engine/pkg/artifacts"
	"github.com/kestrelflow/engine/pkg/budget"
	"github.com/kestrelflow/engine/pkg/cache"
	"github.com/kestrelflow/engine/pkg/checkpoints"
	"github.com/kestrelflow/engine/pkg/dispatcher"
	"github.com/kestrelflow/engine/pkg/events"
	"github.com/kestrelflow/engine/pkg/governance"
	"github.com/kestrelflow/engine/pkg/ids"
	"github.com/kestrelflow/engine/pkg/models"
	"github.com/kestrelflow/engine/pkg/planner"
	"github.com/kestrelflow/engine/pkg/swarm"
)

// Errors Next, Approve, Reject, Retry and Abort return for an
// out-of-sequence call against a run's current status.
var (
	ErrTerminal           = errors.New("engine: run has already reached a terminal state")
	ErrAwaitingConsensus  = errors.New("engine: run is awaiting consensus approval")
	ErrAwaitingPostGate   = errors.New("engine: run is awaiting a post-gate retry or rollback decision")
	ErrUnknownProfile     = errors.New("engine: unknown profile")
	ErrPhaseMismatch      = errors.New("engine: phase does not match the run's current phase")
)

// defaultMaxRetryAttempts bounds how many times a phase may be retried
// before the run gives up and transitions to failed, when the policy
// does not declare its own retry.max_attempts.
const defaultMaxRetryAttempts = 3

// defaultConsensusPhases is the built-in default consensus boundary
// set, used when policy.Consensus.AfterPhases is empty.
var defaultConsensusPhases = []string{"planning", "qa"}

// retryOnlyAgentKey is the Run.Metadata key Retry uses to scope the next
// Next() call's roster down to a single agent (a retry
// replays only the failed subset").
const retryOnlyAgentKey = "retry_only_agent"

// RoleHandlers maps a role name to the callable the dispatcher invokes
// for requests of that role. Concrete agent implementations are an
// out of scope for this module — the engine is handed these callables,
// it never constructs one itself.
type RoleHandlers map[string]dispatcher.RoleHandler

// Options bounds the default concurrency, retry budget and per-agent
// timeout Next applies when the caller's NextOptions leaves a field zero.
type Options struct {
	ConcurrencyLimit int
	RetryBudget      int
	AgentTimeout     time.Duration
}

// Deps bundles every collaborator the engine coordinates. All fields
// except Tools, Handlers, DefaultHandler and Cache are required.
type Deps struct {
	Runs        RunStore
	Intakes     IntakeStore
	Checkpoints *checkpoints.Store
	Artifacts   *artifacts.Store
	Budget      *budget.Ledger
	Events      *events.Bus
	Audit       *governance.AuditLog
	Dispatcher  *dispatcher.Dispatcher
	Cache       *cache.Cache
	Policy      *models.Policy
	Tools       governance.ToolInvoker

	Handlers       RoleHandlers
	DefaultHandler dispatcher.RoleHandler

	Options Options
}

// Engine is the run engine / state machine. One Engine is constructed per
// policy scope (the universal/org/client composition happens once,
// at startup, via pkg/config) and is safe for concurrent use by multiple
// runs; within a single run, Next/Approve/Reject/Retry/Rollback/Abort
// serialize through a per-run mutex (exactly one phase per
// run active at a time").
type Engine struct {
	runs        RunStore
	intakes     IntakeStore
	checkpoints *checkpoints.Store
	artifacts   *artifacts.Store
	budget      *budget.Ledger
	events      *events.Bus
	audit       *governance.AuditLog
	dispatcher  *dispatcher.Dispatcher
	cache       *cache.Cache
	policy      *models.Policy
	tools       governance.ToolInvoker

	handlers       RoleHandlers
	defaultHandler dispatcher.RoleHandler

	opts Options

	runLocksMu sync.Mutex
	runLocks   map[string]*sync.Mutex
}

// New builds an Engine from deps, applying Options defaults.
func New(deps Deps) *Engine {
	if deps.Cache == nil {
		deps.Cache = cache.New()
	}
	if deps.Handlers == nil {
		deps.Handlers = make(RoleHandlers)
	}
	if deps.Options.AgentTimeout <= 0 {
		deps.Options.AgentTimeout = 30 * time.Minute
	}
	return &Engine{
		runs:           deps.Runs,
		intakes:        deps.Intakes,
		checkpoints:    deps.Checkpoints,
		artifacts:      deps.Artifacts,
		budget:         deps.Budget,
		events:         deps.Events,
		audit:          deps.Audit,
		dispatcher:     deps.Dispatcher,
		cache:          deps.Cache,
		policy:         deps.Policy,
		tools:          deps.Tools,
		handlers:       deps.Handlers,
		defaultHandler: deps.DefaultHandler,
		opts:           deps.Options,
		runLocks:       make(map[string]*sync.Mutex),
	}
}

func (e *Engine) lockFor(runID string) *sync.Mutex {
	e.runLocksMu.Lock()
	defer e.runLocksMu.Unlock()
	mu, ok := e.runLocks[runID]
	if !ok {
		mu = &sync.Mutex{}
		e.runLocks[runID] = mu
	}
	return mu
}

// withRunLock enforces the single-writer-per-run discipline (at most one
// §9) around every state-mutating operation.
func (e *Engine) withRunLock(runID string, fn func() error) error {
	mu := e.lockFor(runID)
	mu.Lock()
	defer mu.Unlock()
	return fn()
}

func (e *Engine) publish(ctx context.Context, runID, phase, agentID string, eventType models.EventType, message string, payload map[string]any) {
	if e.events == nil {
		return
	}
	e.events.Publish(ctx, models.Event{
		RunID:     runID,
		Phase:     phase,
		AgentID:   agentID,
		EventType: eventType,
		Message:   message,
		Payload:   payload,
	})
}

// Start creates a new Run for intake, persists it and its intake
// document, and returns its run_id. An empty profile defaults to
// intake.ProjectType; an empty mode defaults to direct execution.
func (e *Engine) Start(ctx context.Context, intake models.Intake, profile models.Profile, mode models.ExecutionMode) (string, error) {
	if profile == "" {
		profile = intake.ProjectType
	}
	graph, ok := models.PhaseGraphs[profile]
	if !ok || len(graph) == 0 {
		return "", fmt.Errorf("%w: %q", ErrUnknownProfile, profile)
	}
	if mode == "" {
		mode = models.ExecutionModeDirect
	}

	digest, err := ids.HashCanonical(intake)
	if err != nil {
		return "", fmt.Errorf("engine: hash intake: %w", err)
	}
	runID := ids.NewRunID(string(profile), time.Now())
	now := time.Now().UTC()

	run := &models.Run{
		RunID:            runID,
		Profile:          profile,
		IntakeDigest:     digest,
		Status:           models.RunStatusRunning,
		CurrentPhase:     graph[0],
		CreatedAt:        now,
		UpdatedAt:        now,
		Metadata:         map[string]string{},
		ExecutionMode:    mode,
		Phases:           map[string]*models.PhaseRecord{},
		ArtifactManifest: map[string]models.ArtifactRefEntry{},
	}

	if err := e.intakes.Save(ctx, runID, intake); err != nil {
		return "", fmt.Errorf("engine: save intake: %w", err)
	}
	if err := e.runs.Save(ctx, run); err != nil {
		return "", fmt.Errorf("engine: save run: %w", err)
	}
	if err := e.checkpoints.HydrateVersions(ctx, runID); err != nil {
		return "", fmt.Errorf("engine: hydrate checkpoint versions: %w", err)
	}

	e.publish(ctx, runID, run.CurrentPhase, "", models.EventRunStarted, fmt.Sprintf("run started for profile %s", profile), map[string]any{"intake_digest": digest})
	return runID, nil
}

// NextOptions overrides the Engine's default concurrency/retry/timeout
// for a single Next call; a zero field inherits the Engine default.
type NextOptions struct {
	ConcurrencyLimit int
	RetryBudget      int
	Timeout          time.Duration
}

// PhaseOutcome is Next's return value: the outcome of driving exactly one
// phase through the standard checkpoint/governance/consensus protocol.
type PhaseOutcome struct {
	Phase            string
	SwarmStatus      swarm.PhaseStatus
	RunStatus        models.RunStatus
	GovernanceResult models.EvaluationResult
	FailureReason    string
	Results          []models.AgentOutput
}

// Next drives run_id through exactly one phase of the per-phase protocol
// in eight steps: PRE checkpoint, planner, swarm dispatch,
// artifact collection and validation, POST/POST_FAILED checkpoint,
// governance evaluation, and (on pass) consensus-gating or advance.
func (e *Engine) Next(ctx context.Context, runID string, opts NextOptions) (PhaseOutcome, error) {
	var outcome PhaseOutcome
	err := e.withRunLock(runID, func() error {
		run, err := e.runs.Load(ctx, runID)
		if err != nil {
			return err
		}
		switch run.Status {
		case models.RunStatusFailed, models.RunStatusCompleted, models.RunStatusAborted:
			return fmt.Errorf("%w: run %s status %s", ErrTerminal, runID, run.Status)
		case models.RunStatusAwaitingConsensus:
			return fmt.Errorf("%w: run %s", ErrAwaitingConsensus, runID)
		case models.RunStatusPaused:
			return fmt.Errorf("%w: run %s", ErrAwaitingPostGate, runID)
		}

		intake, err := e.intakes.Load(ctx, runID)
		if err != nil {
			return err
		}

		phase := run.CurrentPhase
		graph := models.PhaseGraphs[run.Profile]

		agentTimeout := e.opts.AgentTimeout
		if opts.Timeout > 0 {
			agentTimeout = opts.Timeout
		}
		phaseCtx := ctx
		if agentTimeout > 0 {
			var cancel context.CancelFunc
			phaseCtx, cancel = context.WithTimeout(ctx, agentTimeout)
			defer cancel()
		}

		pr := run.Phase(phase)
		pr.Status = models.PhaseStatusRunning
		pr.AttemptCount++
		startedAt := time.Now().UTC()
		pr.StartedAt = &startedAt

		// 1. PRE checkpoint.
		preCP, err := e.checkpoints.Create(ctx, runID, phase, models.CheckpointPre, orchestratorState(run), nil, run.ArtifactManifest, run.GovernanceHistory, run.LastCheckpointID)
		if err != nil {
			return fmt.Errorf("engine: pre checkpoint: %w", err)
		}
		run.LastCheckpointID = preCP.CheckpointID
		pr.CheckpointIDs.Pre = preCP.CheckpointID
		e.publish(ctx, runID, phase, "", models.EventCheckpointCreated, "created PRE checkpoint", map[string]any{"checkpoint_id": preCP.CheckpointID, "kind": string(models.CheckpointPre)})
		e.publish(ctx, runID, phase, "", models.EventPhaseStarted, fmt.Sprintf("phase %s started (attempt %d)", phase, pr.AttemptCount), nil)

		// 2. planner -> roster.
		roster := planner.Roster(intake, *e.policy, phase)
		if only, ok := run.Metadata[retryOnlyAgentKey]; ok && only != "" {
			roster = filterRosterToAgent(roster, only)
			delete(run.Metadata, retryOnlyAgentKey)
		}
		pr.AgentIDs = rosterAgentIDs(roster)

		// 3. swarm executor.
		concurrency := e.opts.ConcurrencyLimit
		if opts.ConcurrencyLimit > 0 {
			concurrency = opts.ConcurrencyLimit
		}
		retryBudget := e.opts.RetryBudget
		if opts.RetryBudget > 0 {
			retryBudget = opts.RetryBudget
		}

		strategy := e.selectStrategy(runID)
		swarmOutcome, err := swarm.Execute(phaseCtx, roster, e.buildExecutor(runID, phase, strategy), swarm.Options{ConcurrencyLimit: concurrency, RetryBudget: retryBudget})
		if err != nil {
			return fmt.Errorf("engine: swarm execute: %w", err)
		}

		var phaseUsage models.TokenUsage
		for _, res := range swarmOutcome.Results {
			phaseUsage.Add(res.TokenUsage)
		}
		pr.TokenUsage = phaseUsage

		// 4. collect artifacts; validate required.
		for _, a := range e.artifacts.ListByPhase(runID, phase) {
			pr.ArtifactIDs = append(pr.ArtifactIDs, a.ArtifactID)
			run.ArtifactManifest[a.LogicalName] = models.ArtifactRefEntry{
				StablePath: phase + "/" + a.LogicalName,
				BlobHash:   a.BlobHash,
				Size:       a.Size,
			}
		}
		missing := missingRequiredArtifacts(e.policy.RequiredArtifacts[phase], run.ArtifactManifest)

		failed := swarmOutcome.Status != swarm.PhaseComplete || len(missing) > 0
		failureReason := swarmOutcome.FailureReason
		if len(missing) > 0 {
			if failureReason != "" {
				failureReason += "; "
			}
			failureReason += fmt.Sprintf("missing required artifacts: %v", missing)
		}

		// 5. POST / POST_FAILED checkpoint.
		kind := models.CheckpointPost
		if failed {
			kind = models.CheckpointPostFailed
		}
		agentStates := agentStateEntries(swarmOutcome.Results)
		postCP, err := e.checkpoints.Create(ctx, runID, phase, kind, orchestratorState(run), agentStates, run.ArtifactManifest, run.GovernanceHistory, run.LastCheckpointID)
		if err != nil {
			return fmt.Errorf("engine: post checkpoint: %w", err)
		}
		run.LastCheckpointID = postCP.CheckpointID
		pr.CheckpointIDs.Post = postCP.CheckpointID
		pr.CheckpointIDs.PostVersions = append(pr.CheckpointIDs.PostVersions, postCP.CheckpointID)
		e.publish(ctx, runID, phase, "", models.EventCheckpointCreated, fmt.Sprintf("created %s checkpoint", kind), map[string]any{"checkpoint_id": postCP.CheckpointID, "kind": string(kind)})

		endedAt := time.Now().UTC()
		pr.EndedAt = &endedAt
		run.UpdatedAt = endedAt

		outcome = PhaseOutcome{Phase: phase, SwarmStatus: swarmOutcome.Status, Results: swarmOutcome.Results}

		if failed {
			pr.Status = models.PhaseStatusFailed
			pr.LastError = failureReason
			outcome.FailureReason = failureReason
			if pr.AttemptCount >= e.maxRetryAttempts() {
				run.Status = models.RunStatusFailed
				run.FailureReason = failureReason
				e.publish(ctx, runID, phase, "", models.EventPhaseFailed, failureReason, nil)
				e.publish(ctx, runID, "", "", models.EventRunAborted, fmt.Sprintf("run %s failed: retry attempts exhausted", runID), nil)
			} else {
				run.Status = models.RunStatusPaused
				run.FailureReason = failureReason
				e.publish(ctx, runID, phase, "", models.EventPhaseFailed, failureReason, nil)
			}
			outcome.RunStatus = run.Status
			return e.runs.Save(ctx, run)
		}

		// 6. governance engine.
		gctx, err := e.buildGovernancePhaseContext(ctx, runID, phase)
		if err != nil {
			return fmt.Errorf("engine: build governance context: %w", err)
		}
		result, err := governance.Evaluate(ctx, e.policy, phase, gctx, e.tools, e.audit)
		if err != nil {
			return fmt.Errorf("engine: governance evaluate: %w", err)
		}
		outcome.GovernanceResult = result
		run.GovernanceHistory = append(run.GovernanceHistory, governanceSummary(result))

		if result.Overall == models.OverallBlock {
			e.publish(ctx, runID, phase, "", models.EventGovernanceCheckFailed, "governance gate blocked phase transition", map[string]any{"gates": result.Gates})
			run.Status = models.RunStatusPaused
			run.FailureReason = "blocked by governance gate"
			pr.Status = models.PhaseStatusFailed
			pr.LastError = run.FailureReason
			outcome.RunStatus = run.Status
			outcome.FailureReason = run.FailureReason
			return e.runs.Save(ctx, run)
		}
		e.publish(ctx, runID, phase, "", models.EventGovernanceCheckPassed, fmt.Sprintf("governance result: %s", result.Overall), map[string]any{"gates": result.Gates})

		pr.Status = models.PhaseStatusComplete
		run.CompletedPhases = append(run.CompletedPhases, phase)
		e.publish(ctx, runID, phase, "", models.EventPhaseCompleted, fmt.Sprintf("phase %s completed", phase), nil)

		// 7. consensus boundary.
		if isConsensusBoundary(e.policy, phase) {
			run.Status = models.RunStatusAwaitingConsensus
			e.publish(ctx, runID, phase, "", models.EventConsensusRequested, "awaiting human review", map[string]any{"post_checkpoint_id": postCP.CheckpointID})
			outcome.RunStatus = run.Status
			return e.runs.Save(ctx, run)
		}

		// 8. advance.
		next, hasNext := nextPhaseInGraph(graph, phase)
		if !hasNext {
			run.Status = models.RunStatusCompleted
			e.publish(ctx, runID, "", "", models.EventRunCompleted, fmt.Sprintf("run %s completed", runID), nil)
		} else {
			run.CurrentPhase = next
			run.Status = models.RunStatusRunning
		}
		outcome.RunStatus = run.Status
		return e.runs.Save(ctx, run)
	})
	return outcome, err
}

func (e *Engine) maxRetryAttempts() int {
	if e.policy.Retry.MaxAttempts > 0 {
		return e.policy.Retry.MaxAttempts
	}
	return defaultMaxRetryAttempts
}

func (e *Engine) selectStrategy(runID string) budget.Strategy {
	remaining := e.budget.Snapshot(budget.ScopePath{RunID: runID}).Remaining()
	return budget.SelectStrategy(remaining, budget.DefaultCostFloors())
}

// buildExecutor adapts the dispatcher into the AgentExecutorFunc shape
// swarm.Execute requires, resolving a RoleHandler per request's role.
func (e *Engine) buildExecutor(runID, phase string, strategy budget.Strategy) swarm.AgentExecutorFunc {
	return func(ctx context.Context, req models.AgentRequest) (models.AgentOutput, error) {
		handler, ok := e.handlers[req.Role]
		if !ok {
			handler = e.defaultHandler
		}
		if handler == nil {
			return models.AgentOutput{AgentID: req.AgentID, Status: models.ExecutionStatusFailed}, fmt.Errorf("engine: no role handler registered for role %q", req.Role)
		}

		contextValue, _, err := e.cache.GetOrCompute(runID+"|"+phase, func() (any, error) {
			return e.buildPhaseContext(ctx, runID, phase)
		})
		var contextMap map[string]any
		if err == nil {
			contextMap, _ = contextValue.(map[string]any)
		}

		input := dispatcher.AgentInput{RunID: runID, Phase: phase, Context: contextMap, Strategy: strategy}
		return e.dispatcher.Invoke(ctx, req, input, handler)
	}
}

func (e *Engine) buildPhaseContext(ctx context.Context, runID, phase string) (map[string]any, error) {
	intake, err := e.intakes.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	run, err := e.runs.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(run.ArtifactManifest))
	for name := range run.ArtifactManifest {
		names = append(names, name)
	}
	sort.Strings(names)

	return map[string]any{
		"project_name":        intake.ProjectName,
		"project_type":        string(intake.ProjectType),
		"description":         intake.Description,
		"requirements":        intake.Requirements,
		"constraints":         intake.Constraints,
		"phase":               phase,
		"available_artifacts": names,
	}, nil
}

func (e *Engine) buildGovernancePhaseContext(ctx context.Context, runID, phase string) (governance.PhaseContext, error) {
	pctx := governance.PhaseContext{RunID: runID, Phase: phase, ArtifactText: map[string]string{}, ArtifactJSON: map[string][]byte{}}
	for _, ref := range e.artifacts.ListByRun(runID) {
		_, data, err := e.artifacts.Get(ctx, ref.ArtifactID)
		if err != nil {
			return governance.PhaseContext{}, err
		}
		pctx.ArtifactText[ref.LogicalName] = string(data)
		pctx.ArtifactJSON[ref.LogicalName] = data
	}
	return pctx, nil
}

// Approve resolves an awaiting_consensus run by advancing it to the next
// phase (or completed, if the consensus boundary was the final phase).
func (e *Engine) Approve(ctx context.Context, runID string) error {
	return e.withRunLock(runID, func() error {
		run, err := e.runs.Load(ctx, runID)
		if err != nil {
			return err
		}
		if run.Status != models.RunStatusAwaitingConsensus {
			return fmt.Errorf("engine: run %s is not awaiting consensus (status %s)", runID, run.Status)
		}

		graph := models.PhaseGraphs[run.Profile]
		next, hasNext := nextPhaseInGraph(graph, run.CurrentPhase)
		e.publish(ctx, runID, run.CurrentPhase, "", models.EventConsensusApproved, "consensus approved", nil)
		if !hasNext {
			run.Status = models.RunStatusCompleted
			e.publish(ctx, runID, "", "", models.EventRunCompleted, fmt.Sprintf("run %s completed", runID), nil)
		} else {
			run.CurrentPhase = next
			run.Status = models.RunStatusRunning
		}
		run.UpdatedAt = time.Now().UTC()
		return e.runs.Save(ctx, run)
	})
}

// Reject holds an awaiting_consensus run at awaiting_post_gate, recording
// reason; the operator must retry or rollback to proceed.
func (e *Engine) Reject(ctx context.Context, runID, reason string) error {
	return e.withRunLock(runID, func() error {
		run, err := e.runs.Load(ctx, runID)
		if err != nil {
			return err
		}
		if run.Status != models.RunStatusAwaitingConsensus {
			return fmt.Errorf("engine: run %s is not awaiting consensus (status %s)", runID, run.Status)
		}
		run.Status = models.RunStatusPaused
		run.FailureReason = reason
		run.UpdatedAt = time.Now().UTC()
		e.publish(ctx, runID, run.CurrentPhase, "", models.EventConsensusRejected, reason, nil)
		return e.runs.Save(ctx, run)
	})
}

// Retry clears a paused run back to running so the next Next() call
// replays phase. When agent is non-empty, that Next() call's roster is
// scoped to just that agent id (replays only the failed
// subset"); otherwise the full phase roster reruns.
func (e *Engine) Retry(ctx context.Context, runID, phase, agent string) error {
	return e.withRunLock(runID, func() error {
		run, err := e.runs.Load(ctx, runID)
		if err != nil {
			return err
		}
		if run.Status != models.RunStatusPaused && run.Status != models.RunStatusFailed {
			return fmt.Errorf("%w: run %s status %s", ErrAwaitingPostGate, runID, run.Status)
		}
		if run.CurrentPhase != phase {
			return fmt.Errorf("%w: run %s current phase is %s, not %s", ErrPhaseMismatch, runID, run.CurrentPhase, phase)
		}

		run.Status = models.RunStatusRunning
		run.FailureReason = ""
		if run.Metadata == nil {
			run.Metadata = make(map[string]string)
		}
		if agent != "" {
			run.Metadata[retryOnlyAgentKey] = agent
		} else {
			delete(run.Metadata, retryOnlyAgentKey)
		}
		run.UpdatedAt = time.Now().UTC()
		return e.runs.Save(ctx, run)
	})
}

// Rollback delegates to the checkpoint store's Rollback and resets the
// run's current_phase, completed_phases, and artifact manifest to the
// rolled-back checkpoint's snapshot.
func (e *Engine) Rollback(ctx context.Context, runID, targetCheckpointID string) error {
	return e.withRunLock(runID, func() error {
		run, err := e.runs.Load(ctx, runID)
		if err != nil {
			return err
		}
		cp, err := e.checkpoints.Rollback(ctx, runID, targetCheckpointID)
		if err != nil {
			return fmt.Errorf("engine: rollback: %w", err)
		}

		run.CurrentPhase = cp.OrchestratorSnapshot.CurrentPhase
		run.CompletedPhases = append([]string(nil), cp.OrchestratorSnapshot.CompletedPhases...)
		run.ArtifactManifest = cloneArtifactRefMap(cp.Artifacts)
		run.GovernanceHistory = append([]models.GovernanceResultSummary(nil), cp.GovernanceResults...)
		run.LastCheckpointID = cp.CheckpointID
		run.Status = models.RunStatusRunning
		run.FailureReason = ""
		if pr, ok := run.Phases[run.CurrentPhase]; ok {
			pr.Status = models.PhaseStatusPending
		}
		run.UpdatedAt = time.Now().UTC()

		e.publish(ctx, runID, run.CurrentPhase, "", models.EventRollbackPerformed, fmt.Sprintf("rolled back to checkpoint %s", targetCheckpointID), map[string]any{
			"target_checkpoint_id": targetCheckpointID,
			"new_checkpoint_id":    cp.CheckpointID,
		})
		return e.runs.Save(ctx, run)
	})
}

// Abort transitions a non-terminal run directly to aborted.
func (e *Engine) Abort(ctx context.Context, runID string) error {
	return e.withRunLock(runID, func() error {
		run, err := e.runs.Load(ctx, runID)
		if err != nil {
			return err
		}
		if run.Status.IsTerminal() {
			return fmt.Errorf("%w: run %s status %s", ErrTerminal, runID, run.Status)
		}
		run.Status = models.RunStatusAborted
		run.UpdatedAt = time.Now().UTC()
		e.publish(ctx, runID, run.CurrentPhase, "", models.EventRunAborted, "run aborted by operator", nil)
		return e.runs.Save(ctx, run)
	})
}

// Resume primes the checkpoint store's version counters for runID from
// the backend and re-validates the integrity of its last checkpoint before
// a resumed run is allowed to dispatch its next phase.
func (e *Engine) Resume(ctx context.Context, runID string) error {
	return e.withRunLock(runID, func() error {
		run, err := e.runs.Load(ctx, runID)
		if err != nil {
			return err
		}
		if err := e.checkpoints.HydrateVersions(ctx, runID); err != nil {
			return fmt.Errorf("engine: resume: hydrate versions: %w", err)
		}
		if run.LastCheckpointID == "" {
			return nil
		}
		if _, err := e.checkpoints.Load(ctx, run.LastCheckpointID); err != nil {
			return fmt.Errorf("engine: resume: integrity check on last checkpoint: %w", err)
		}
		return nil
	})
}

// StartupScan resumes every run in status running or awaiting_consensus
// (on startup the engine scans in-flight runs and rehydrates them),
// returning the run ids it resumed.
func (e *Engine) StartupScan(ctx context.Context) ([]string, error) {
	runs, err := e.runs.ListByStatus(ctx, models.RunStatusRunning, models.RunStatusAwaitingConsensus)
	if err != nil {
		return nil, fmt.Errorf("engine: startup scan: list runs: %w", err)
	}
	resumed := make([]string, 0, len(runs))
	for _, run := range runs {
		if err := e.Resume(ctx, run.RunID); err != nil {
			return resumed, err
		}
		resumed = append(resumed, run.RunID)
	}
	return resumed, nil
}

// StatusSummary is Status's return value: the run record plus the event
// stream observers need to render a human-facing view
// `status(run_id)`).
type StatusSummary struct {
	Run           *models.Run
	RecentEvents  []models.Event
	EventsDropped uint64
}

// Status returns the current Run record and its retained event history.
func (e *Engine) Status(ctx context.Context, runID string) (StatusSummary, error) {
	run, err := e.runs.Load(ctx, runID)
	if err != nil {
		return StatusSummary{}, err
	}
	return StatusSummary{
		Run:           run,
		RecentEvents:  e.events.History(runID, 0),
		EventsDropped: e.events.EventsDropped(runID),
	}, nil
}

// Metrics returns the full budget breakdown for runID
// `metrics(run_id)`).
func (e *Engine) Metrics(runID string) budget.Report {
	return e.budget.Report(runID)
}

func orchestratorState(run *models.Run) models.OrchestratorState {
	return models.OrchestratorState{
		Profile:         run.Profile,
		Status:          run.Status,
		CurrentPhase:    run.CurrentPhase,
		CompletedPhases: append([]string(nil), run.CompletedPhases...),
		ExecutionMode:   run.ExecutionMode,
	}
}

func rosterAgentIDs(roster models.AgentRoster) []string {
	out := make([]string, 0, len(roster.Agents))
	for _, a := range roster.Agents {
		out = append(out, a.AgentID)
	}
	return out
}

func agentStateEntries(results []models.AgentOutput) map[string]models.AgentStateEntry {
	out := make(map[string]models.AgentStateEntry, len(results))
	for _, r := range results {
		out[r.AgentID] = models.AgentStateEntry{
			Status:        string(r.Status),
			TokenUsage:    r.TokenUsage,
			OutputSummary: r.Summary,
		}
	}
	return out
}

func missingRequiredArtifacts(required []string, manifest map[string]models.ArtifactRefEntry) []string {
	var missing []string
	for _, name := range required {
		if _, ok := manifest[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

func governanceSummary(result models.EvaluationResult) models.GovernanceResultSummary {
	summary := models.GovernanceResultSummary{Overall: string(result.Overall)}
	for _, g := range result.Gates {
		summary.GateIDs = append(summary.GateIDs, g.GateID)
		switch g.Status {
		case models.GateStatusWarn:
			summary.Warnings = append(summary.Warnings, g.Message)
		case models.GateStatusBlock:
			summary.BlockedBy = append(summary.BlockedBy, g.GateID)
		}
	}
	return summary
}

func isConsensusBoundary(policy *models.Policy, phase string) bool {
	boundaries := policy.Consensus.AfterPhases
	if len(boundaries) == 0 {
		boundaries = defaultConsensusPhases
	}
	for _, b := range boundaries {
		if b == phase {
			return true
		}
	}
	return false
}

func nextPhaseInGraph(graph []string, phase string) (string, bool) {
	for i, p := range graph {
		if p == phase {
			if i+1 < len(graph) {
				return graph[i+1], true
			}
			return "", false
		}
	}
	return "", false
}

func filterRosterToAgent(roster models.AgentRoster, agentID string) models.AgentRoster {
	filtered := models.AgentRoster{Phase: roster.Phase}
	for _, a := range roster.Agents {
		if a.AgentID == agentID {
			a.DependencyRefs = nil
			filtered.Agents = append(filtered.Agents, a)
		}
	}
	if len(filtered.Agents) == 0 {
		return roster
	}
	return filtered
}

func cloneArtifactRefMap(m map[string]models.ArtifactRefEntry) map[string]models.ArtifactRefEntry {
	out := make(map[string]models.ArtifactRefEntry, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
