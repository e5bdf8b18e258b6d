// Package models defines the data entities owned by the run engine: Run,
// PhaseRecord, Checkpoint, Artifact, AgentRoster, Event and their supporting
// value types. Entities are plain structs referencing each other by id,
// never by pointer — cross-entity cycles (e.g. a rollback checkpoint and
// its target) are expressed as id references so stores can serialize them
// independently.
package models

import "time"

// RunStatus is the top-level state of a Run.
type RunStatus string

// Run statuses.
const (
	RunStatusRunning           RunStatus = "running"
	RunStatusAwaitingConsensus RunStatus = "awaiting_consensus"
	RunStatusPaused            RunStatus = "paused"
	RunStatusFailed            RunStatus = "failed"
	RunStatusCompleted         RunStatus = "completed"
	RunStatusAborted           RunStatus = "aborted"
)

// IsTerminal reports whether the status ends the run's lifecycle.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusFailed, RunStatusCompleted, RunStatusAborted:
		return true
	default:
		return false
	}
}

// ExecutionMode controls the filesystem/network isolation given to agents.
type ExecutionMode string

// Execution modes.
const (
	ExecutionModeDirect    ExecutionMode = "direct"
	ExecutionModeSandboxed ExecutionMode = "sandboxed"
)

// Profile selects the phase graph a Run follows.
type Profile string

// Supported profiles.
const (
	ProfileAnalytics   Profile = "analytics"
	ProfileML          Profile = "ml"
	ProfileWebapp      Profile = "webapp"
	ProfileOptimization Profile = "optimization"
)

// PhaseGraphs maps each profile to its ordered phase sequence, excluding the
// synthetic terminal "complete" node.
var PhaseGraphs = map[Profile][]string{
	ProfileAnalytics:    {"planning", "architecture", "data", "development", "documentation"},
	ProfileML:           {"planning", "architecture", "data", "development", "qa", "documentation"},
	ProfileWebapp:       {"planning", "architecture", "development", "qa", "documentation", "security"},
	ProfileOptimization: {"planning", "architecture", "data", "development", "qa", "documentation"},
}

// Run is a single end-to-end execution of the workflow engine.
type Run struct {
	RunID           string            `json:"run_id"`
	Profile         Profile           `json:"profile"`
	IntakeDigest    string            `json:"intake_digest"`
	Status          RunStatus         `json:"status"`
	CurrentPhase    string            `json:"current_phase"`
	CompletedPhases []string          `json:"completed_phases"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	Metadata        map[string]string `json:"metadata"`
	Labels          []string          `json:"labels"`
	ExecutionMode   ExecutionMode     `json:"execution_mode"`

	// FailureReason is set when Status is failed or aborted.
	FailureReason string `json:"failure_reason,omitempty"`

	// Phases tracks one PhaseRecord per phase name the run has touched.
	Phases map[string]*PhaseRecord `json:"phases"`

	// LastCheckpointID is the checkpoint_id of the most recently created
	// checkpoint for this run, used as the next checkpoint's parent.
	LastCheckpointID string `json:"last_checkpoint_id,omitempty"`

	// ArtifactManifest is the cumulative logical_name -> {stable_path,
	// blob_hash, size} view carried into every checkpoint's Artifacts
	// field, updated as each phase completes.
	ArtifactManifest map[string]ArtifactRefEntry `json:"artifact_manifest"`

	// GovernanceHistory is the cumulative list of governance evaluations
	// carried forward into each new checkpoint's GovernanceResults.
	GovernanceHistory []GovernanceResultSummary `json:"governance_history"`
}

// Clone returns a deep copy so callers can mutate without racing the store.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	c := *r
	c.CompletedPhases = append([]string(nil), r.CompletedPhases...)
	c.Labels = append([]string(nil), r.Labels...)
	c.Metadata = make(map[string]string, len(r.Metadata))
	for k, v := range r.Metadata {
		c.Metadata[k] = v
	}
	c.Phases = make(map[string]*PhaseRecord, len(r.Phases))
	for name, pr := range r.Phases {
		cp := *pr
		cp.AgentIDs = append([]string(nil), pr.AgentIDs...)
		cp.ArtifactIDs = append([]string(nil), pr.ArtifactIDs...)
		cp.CheckpointIDs.PostVersions = append([]string(nil), pr.CheckpointIDs.PostVersions...)
		c.Phases[name] = &cp
	}
	c.ArtifactManifest = make(map[string]ArtifactRefEntry, len(r.ArtifactManifest))
	for k, v := range r.ArtifactManifest {
		c.ArtifactManifest[k] = v
	}
	c.GovernanceHistory = append([]GovernanceResultSummary(nil), r.GovernanceHistory...)
	return &c
}

// Phase returns (creating if absent) the PhaseRecord for name.
func (r *Run) Phase(name string) *PhaseRecord {
	if r.Phases == nil {
		r.Phases = make(map[string]*PhaseRecord)
	}
	pr, ok := r.Phases[name]
	if !ok {
		pr = &PhaseRecord{PhaseName: name, Status: PhaseStatusPending}
		r.Phases[name] = pr
	}
	return pr
}

// HasCompleted reports whether phase is in CompletedPhases.
func (r *Run) HasCompleted(phase string) bool {
	for _, p := range r.CompletedPhases {
		if p == phase {
			return true
		}
	}
	return false
}

// TokenUsage aggregates input/output tokens and attributed cost.
type TokenUsage struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUnits    float64 `json:"cost_units"`
	RequestCount int64   `json:"request_count"`
}

// Add accumulates other into u and returns u for chaining.
func (u *TokenUsage) Add(other TokenUsage) *TokenUsage {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CostUnits += other.CostUnits
	u.RequestCount += other.RequestCount
	return u
}

// PhaseStatus is the lifecycle state of a single PhaseRecord.
type PhaseStatus string

// Phase statuses.
const (
	PhaseStatusPending PhaseStatus = "pending"
	PhaseStatusRunning PhaseStatus = "running"
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed  PhaseStatus = "failed"
	PhaseStatusSkipped PhaseStatus = "skipped"
)

// PhaseRecord tracks one phase's execution within a Run.
type PhaseRecord struct {
	PhaseName        string      `json:"phase_name"`
	Status           PhaseStatus `json:"status"`
	AttemptCount     int         `json:"attempt_count"`
	StartedAt        *time.Time  `json:"started_at,omitempty"`
	EndedAt          *time.Time  `json:"ended_at,omitempty"`
	AgentIDs         []string    `json:"agent_ids"`
	ArtifactIDs      []string    `json:"artifact_ids"`
	CheckpointIDs    PhaseCheckpointIDs `json:"checkpoint_ids"`
	TokenUsage       TokenUsage  `json:"token_usage"`
	GovernanceResult string      `json:"governance_result,omitempty"` // audit entry id
	LastError        string      `json:"last_error,omitempty"`
}

// PhaseCheckpointIDs names the checkpoints taken around a phase boundary.
type PhaseCheckpointIDs struct {
	Pre      string   `json:"pre,omitempty"`
	Post     string   `json:"post,omitempty"`
	PostVersions []string `json:"post_versions,omitempty"` // POST_vN for re-runs, oldest first
}
