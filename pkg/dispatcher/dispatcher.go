// Package dispatcher implements the agent dispatcher: the
// single `invoke` capability every agent role is a variant of. It admits
// the call against the budget ledger, runs the role's callable through its
// uniform INITIALIZE→PLAN→ACT→SUMMARIZE→COMPLETE lifecycle, validates the
// returned output against the role's schema, captures produced artifacts
// into the content-addressed store, records token usage, and classifies
// any failure as transient or permanent.
package dispatcher

import (
	"context"
	"fmt"

	"github.com/kestrelflow/engine/pkg/artifacts"
	"github.com/kestrelflow/engine/pkg/budget"
	"github.com/kestrelflow/engine/pkg/masking"
	"github.com/kestrelflow/engine/pkg/models"
)

// EventEmitter is the narrow interface the dispatcher needs from the event
// bus, keeping this package independent of pkg/events' concrete type.
type EventEmitter interface {
	Publish(ctx context.Context, evt models.Event)
}

// Stage names for the uniform agent lifecycle.
const (
	StageInitialize = "initialize"
	StagePlan       = "plan"
	StageAct        = "act"
	StageSummarize  = "summarize"
	StageComplete   = "complete"
)

// StageEmitter lets a RoleHandler report lifecycle progress beyond the
// INITIALIZE/COMPLETE boundaries the dispatcher itself observes — a
// handler calls it as it moves through PLAN, zero or more ACT rounds, and
// SUMMARIZE.
type StageEmitter func(stage string)

// AgentInput is what the dispatcher hands a RoleHandler: the composed
// context (already resolved through the cache by the caller), the
// strategy the budget picked for this call, and a StageEmitter for
// mid-lifecycle progress events.
type AgentInput struct {
	RunID     string
	Phase     string
	Context   map[string]any
	Strategy  budget.Strategy
	EmitStage StageEmitter
}

// RoleHandler is the role-specific callable injected as the
// one capability every agent role is a variant of: `invoke` with a
// structured input and a structured, schema-validated output.
type RoleHandler func(ctx context.Context, req models.AgentRequest, input AgentInput) (RoleOutput, error)

// Dispatcher wires the agent lifecycle to the budget ledger, the artifact
// store, and the event bus.
type Dispatcher struct {
	Budget    *budget.Ledger
	Artifacts *artifacts.Store
	Emitter   EventEmitter
	Redactor  *masking.Redactor
}

// New builds a Dispatcher. ledger and store are required; emitter may be
// nil, in which case lifecycle events are simply not published. A Redactor
// is not set here — assign Dispatcher.Redactor directly to enable artifact
// content redaction.
func New(ledger *budget.Ledger, store *artifacts.Store, emitter EventEmitter) *Dispatcher {
	return &Dispatcher{Budget: ledger, Artifacts: store, Emitter: emitter}
}

// Invoke runs one agent request through the full dispatch contract:
// `invoke(agent_request, context, budget_ceiling, cancel_signal) →
// AgentOutput`. ctx carries cancellation; input.RunID and
// input.Phase name the scope the budget ceiling applies to.
func (d *Dispatcher) Invoke(ctx context.Context, req models.AgentRequest, input AgentInput, handler RoleHandler) (models.AgentOutput, error) {
	path := budget.ScopePath{RunID: input.RunID, Phase: input.Phase, AgentID: req.AgentID}

	estimate, estErr := budget.EstimateTokens(req.InputSpec)
	if estErr != nil {
		// Estimation failing (e.g. unrecognized encoding) must not block
		// dispatch — admit a conservative zero-token request instead of
		// refusing outright.
		estimate = 0
	}

	decision := d.Budget.Admit(ctx, path, int64(estimate))
	if !decision.Allowed {
		out := models.AgentOutput{AgentID: req.AgentID, Status: models.ExecutionStatusFailed, Errors: []string{decision.Reason}}
		return out, permanentf("budget admission denied: %s", decision.Reason)
	}

	if input.EmitStage == nil {
		input.EmitStage = func(string) {}
	}
	emitStage := input.EmitStage
	input.EmitStage = func(stage string) {
		d.publishLifecycle(ctx, input.RunID, input.Phase, req.AgentID, stage)
		emitStage(stage)
	}

	d.publishLifecycle(ctx, input.RunID, input.Phase, req.AgentID, StageInitialize)

	roleOut, err := handler(ctx, req, input)
	if err != nil {
		return d.fail(ctx, input, req, err)
	}

	if verr := validateOutput(req.Role, roleOut); verr != nil {
		return d.fail(ctx, input, req, permanentf("%v", verr))
	}

	storedArtifacts := make([]models.Artifact, 0, len(roleOut.Artifacts))
	for _, a := range roleOut.Artifacts {
		data := d.Redactor.Redact(a.Data)
		ref, err := d.Artifacts.Put(ctx, input.RunID, input.Phase, req.AgentID, a.LogicalName, a.Type, data)
		if err != nil {
			return d.fail(ctx, input, req, transientf("storing artifact %q: %w", a.LogicalName, err))
		}
		storedArtifacts = append(storedArtifacts, *ref)
	}

	d.Budget.Record(ctx, path, roleOut.TokenUsage.InputTokens, roleOut.TokenUsage.OutputTokens, roleOut.TokenUsage.CostUnits)

	out := models.AgentOutput{
		AgentID:    req.AgentID,
		Status:     roleOut.Status,
		Artifacts:  storedArtifacts,
		Summary:    roleOut.Summary,
		TokenUsage: roleOut.TokenUsage,
		Errors:     roleOut.Errors,
	}

	if roleOut.Status == models.ExecutionStatusFailed {
		d.publishTerminal(ctx, input, req, false, fmt.Sprintf("agent %s reported failure", req.AgentID))
		return out, permanentf("agent %s reported status failed", req.AgentID)
	}

	d.publishTerminal(ctx, input, req, true, fmt.Sprintf("agent %s completed", req.AgentID))
	return out, nil
}

func (d *Dispatcher) fail(ctx context.Context, input AgentInput, req models.AgentRequest, err error) (models.AgentOutput, error) {
	d.publishTerminal(ctx, input, req, false, err.Error())
	out := models.AgentOutput{AgentID: req.AgentID, Status: models.ExecutionStatusFailed, Errors: []string{err.Error()}}
	return out, err
}

func (d *Dispatcher) publishLifecycle(ctx context.Context, runID, phase, agentID, stage string) {
	if d.Emitter == nil {
		return
	}
	d.Emitter.Publish(ctx, models.Event{
		RunID:     runID,
		Phase:     phase,
		AgentID:   agentID,
		EventType: models.EventAgentStarted,
		Message:   fmt.Sprintf("agent %s entered %s", agentID, stage),
		Payload:   map[string]any{"stage": stage},
	})
}

func (d *Dispatcher) publishTerminal(ctx context.Context, input AgentInput, req models.AgentRequest, ok bool, message string) {
	if d.Emitter == nil {
		return
	}
	evtType := models.EventAgentCompleted
	if !ok {
		evtType = models.EventAgentFailed
	}
	d.Emitter.Publish(ctx, models.Event{
		RunID:     input.RunID,
		Phase:     input.Phase,
		AgentID:   req.AgentID,
		EventType: evtType,
		Message:   message,
		Payload:   map[string]any{"stage": StageComplete},
	})
}
