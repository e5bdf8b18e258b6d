package models

import "time"

// EventType enumerates the structured events the engine emits.
type EventType string

// Event types.
const (
	EventRunStarted              EventType = "run_started"
	EventPhaseStarted            EventType = "phase_started"
	EventPhaseCompleted          EventType = "phase_completed"
	EventPhaseFailed             EventType = "phase_failed"
	EventAgentStarted            EventType = "agent_started"
	EventAgentCompleted          EventType = "agent_completed"
	EventAgentFailed             EventType = "agent_failed"
	EventGovernanceCheckPassed   EventType = "governance_check_passed"
	EventGovernanceCheckFailed   EventType = "governance_check_failed"
	EventCheckpointCreated       EventType = "checkpoint_created"
	EventConsensusRequested      EventType = "consensus_requested"
	EventConsensusApproved       EventType = "consensus_approved"
	EventConsensusRejected       EventType = "consensus_rejected"
	EventBudgetThreshold         EventType = "budget_threshold"
	EventRollbackPerformed       EventType = "rollback_performed"
	EventRunCompleted            EventType = "run_completed"
	EventRunAborted              EventType = "run_aborted"
)

// Event is a structured, append-only record published on the event bus.
type Event struct {
	ID        string                 `json:"id"`
	RunID     string                 `json:"run_id"`
	Phase     string                 `json:"phase,omitempty"`
	AgentID   string                 `json:"agent_id,omitempty"`
	EventType EventType              `json:"event_type"`
	Message   string                 `json:"message"`
	Payload   map[string]any         `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Sequence  uint64                 `json:"sequence"`
}
