package models

// AgentRequest is one entry in an AgentRoster: a unit of work dispatched to
// a named role, with declared dependencies on sibling requests within the
// same roster.
type AgentRequest struct {
	AgentID         string   `json:"agent_id"`
	Role            string   `json:"role"`
	DependencyRefs  []string `json:"dependency_refs"` // other agent_ids in the same roster
	InputSpec       string   `json:"input_spec"`
}

// AgentRoster is the ordered sequence of agents planned for one phase.
// It is derived fresh per phase and is not persisted beyond the active
// phase.
type AgentRoster struct {
	Phase   string         `json:"phase"`
	Agents  []AgentRequest `json:"agents"`
}

// ByID returns the request with the given agent id, or false.
func (r AgentRoster) ByID(agentID string) (AgentRequest, bool) {
	for _, a := range r.Agents {
		if a.AgentID == agentID {
			return a, true
		}
	}
	return AgentRequest{}, false
}

// ExecutionStatus is the terminal or in-flight state of a dispatched agent.
type ExecutionStatus string

// Execution statuses.
const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// AgentOutput is what an agent dispatch invocation returns.
type AgentOutput struct {
	AgentID    string            `json:"agent_id"`
	Status     ExecutionStatus   `json:"status"`
	Artifacts  []Artifact        `json:"artifacts"`
	Summary    string            `json:"summary"`
	TokenUsage TokenUsage        `json:"token_usage"`
	Errors     []string          `json:"errors,omitempty"`
}
