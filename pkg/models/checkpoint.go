package models

import "time"

// CheckpointKind discriminates the checkpoint lifecycle moment.
type CheckpointKind string

// Checkpoint kinds.
const (
	CheckpointPre         CheckpointKind = "PRE"
	CheckpointPost        CheckpointKind = "POST"
	CheckpointPostFailed  CheckpointKind = "POST_FAILED"
	CheckpointPreRollback CheckpointKind = "PRE_ROLLBACK"
)

// ArtifactRefEntry is the checkpoint-local record of one named artifact.
type ArtifactRefEntry struct {
	StablePath string `json:"stable_path"`
	BlobHash   string `json:"blob_hash"`
	Size       int64  `json:"size"`
}

// AgentStateEntry is the checkpoint-local record of one agent's snapshot state.
type AgentStateEntry struct {
	Status        string     `json:"status"`
	TokenUsage    TokenUsage `json:"token_usage"`
	OutputSummary string     `json:"output_summary"`
}

// OrchestratorState is the frozen subset of Run fields captured in a checkpoint.
type OrchestratorState struct {
	Profile         Profile   `json:"profile"`
	Status          RunStatus `json:"status"`
	CurrentPhase    string    `json:"current_phase"`
	CompletedPhases []string  `json:"completed_phases"`
	ExecutionMode   ExecutionMode `json:"execution_mode"`
}

// GovernanceResultSummary is the checkpoint-local copy of a governance evaluation.
type GovernanceResultSummary struct {
	Overall    string   `json:"overall"` // pass | pass_with_warnings | block
	GateIDs    []string `json:"gate_ids"`
	Warnings   []string `json:"warnings,omitempty"`
	BlockedBy  []string `json:"blocked_by,omitempty"`
}

// Checkpoint is a versioned, content-addressed snapshot around a phase boundary.
type Checkpoint struct {
	CheckpointID        string                      `json:"checkpoint_id"`
	RunID                string                      `json:"run_id"`
	Phase                string                      `json:"phase"`
	Kind                 CheckpointKind              `json:"kind"`
	Version              int                         `json:"version"`
	CreatedAt            time.Time                   `json:"created_at"`
	DurationMS           int64                       `json:"duration_ms"`
	ParentCheckpointID    string                      `json:"parent_checkpoint_id,omitempty"`
	Artifacts            map[string]ArtifactRefEntry `json:"artifacts"`
	AgentStates          map[string]AgentStateEntry  `json:"agent_states"`
	OrchestratorSnapshot OrchestratorState           `json:"orchestrator_state"`
	GovernanceResults    []GovernanceResultSummary   `json:"governance_results"`
	Metadata             map[string]string           `json:"metadata,omitempty"`
}

// CheckpointDiff describes the result of comparing two checkpoints.
type CheckpointDiff struct {
	AddedArtifacts   []string `json:"added_artifacts"`
	RemovedArtifacts []string `json:"removed_artifacts"`
	ChangedArtifacts []string `json:"changed_artifacts"`
	ChangedAgents    []string `json:"changed_agents"`
}

// ArtifactType enumerates the semantic content kinds an artifact may hold.
type ArtifactType string

// Artifact types.
const (
	ArtifactTypeMarkdown ArtifactType = "markdown"
	ArtifactTypeJSON     ArtifactType = "json"
	ArtifactTypeCode     ArtifactType = "code"
	ArtifactTypeYAML     ArtifactType = "yaml"
	ArtifactTypeTabular  ArtifactType = "tabular"
)

// Artifact is an immutable, content-addressed output produced by an agent.
type Artifact struct {
	ArtifactID      string       `json:"artifact_id"`
	ProducingPhase  string       `json:"producing_phase"`
	ProducingAgent  string       `json:"producing_agent"`
	LogicalName     string       `json:"logical_name"`
	ArtifactType    ArtifactType `json:"artifact_type"`
	BlobHash        string       `json:"blob_hash"`
	Size            int64        `json:"size"`
	CreatedAt       time.Time    `json:"created_at"`
}
