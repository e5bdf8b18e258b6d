package models

// GateKind discriminates how a Gate is evaluated.
type GateKind string

// Gate kinds.
const (
	GateKindMetric    GateKind = "metric"
	GateKindTool      GateKind = "tool"
	GateKindValidator GateKind = "validator"
)

// GateFailureMode is what the engine does when a gate does not pass.
type GateFailureMode string

// Gate failure modes.
const (
	OnFailureBlock GateFailureMode = "block"
	OnFailureWarn  GateFailureMode = "warn"
)

// MetricSpec extracts a numeric from an artifact and compares it to a
// threshold (the Metric gate kind).
type MetricSpec struct {
	ArtifactName string  `yaml:"artifact_name" json:"artifact_name"`
	JSONPath     string  `yaml:"json_path" json:"json_path"`
	Comparator   string  `yaml:"comparator" json:"comparator"` // gte | lte | gt | lt | eq
	Threshold    float64 `yaml:"threshold" json:"threshold"`
}

// ToolSpec invokes an external scanner via the agent dispatcher and
// interprets its structured result (the Tool gate kind).
type ToolSpec struct {
	ToolName     string            `yaml:"tool_name" json:"tool_name"`
	Args         map[string]string `yaml:"args,omitempty" json:"args,omitempty"`
	ResultField  string            `yaml:"result_field" json:"result_field"`
	ExpectedPass string            `yaml:"expected_pass" json:"expected_pass"`
}

// ValidatorSpec scans artifact content for disallowed patterns, or checks
// required-attribute presence (the Validator gate kind).
type ValidatorSpec struct {
	ArtifactNames      []string `yaml:"artifact_names,omitempty" json:"artifact_names,omitempty"`
	DisallowedPatterns []string `yaml:"disallowed_patterns,omitempty" json:"disallowed_patterns,omitempty"`
	RequiredAttributes []string `yaml:"required_attributes,omitempty" json:"required_attributes,omitempty"`
}

// Gate is a declarative rule evaluated at a phase boundary. Exactly one of
// Metric, Tool, Validator is populated, selected by Kind — a tagged
// variant (polymorphism over heterogeneous gate types).
type Gate struct {
	GateID             string          `yaml:"gate_id" json:"gate_id"`
	Kind               GateKind        `yaml:"kind" json:"kind"`
	PhaseApplicability []string        `yaml:"phase_applicability" json:"phase_applicability"`
	OnFailure          GateFailureMode `yaml:"on_failure" json:"on_failure"`
	Metric             *MetricSpec     `yaml:"metric,omitempty" json:"metric,omitempty"`
	Tool               *ToolSpec       `yaml:"tool,omitempty" json:"tool,omitempty"`
	Validator          *ValidatorSpec  `yaml:"validator,omitempty" json:"validator,omitempty"`
}

// AppliesToPhase reports whether the gate is declared for phase.
func (g Gate) AppliesToPhase(phase string) bool {
	for _, p := range g.PhaseApplicability {
		if p == phase {
			return true
		}
	}
	return false
}

// GateResultStatus is the outcome of evaluating one gate.
type GateResultStatus string

// Gate result statuses.
const (
	GateStatusPass GateResultStatus = "pass"
	GateStatusWarn GateResultStatus = "warn"
	GateStatusBlock GateResultStatus = "block"
)

// GateResult is the outcome of evaluating a single gate against a PhaseContext.
type GateResult struct {
	GateID      string           `json:"gate_id"`
	Status      GateResultStatus `json:"status"`
	Message     string           `json:"message"`
	Remediation string           `json:"remediation,omitempty"`
	Actual      float64          `json:"actual,omitempty"`
	Threshold   float64          `json:"threshold,omitempty"`
}

// OverallGateStatus is the aggregate of all per-gate results for a transition.
type OverallGateStatus string

// Overall gate statuses.
const (
	OverallPass               OverallGateStatus = "pass"
	OverallPassWithWarnings   OverallGateStatus = "pass_with_warnings"
	OverallBlock              OverallGateStatus = "block"
)

// EvaluationResult is the governance engine's evaluate() return value.
type EvaluationResult struct {
	Overall OverallGateStatus `json:"overall"`
	Gates   []GateResult      `json:"gates"`
}

// ConsensusConfig names the phases after which the engine pauses for
// human approval (a consensus boundary).
type ConsensusConfig struct {
	AfterPhases []string `yaml:"after_phases" json:"after_phases"`
}

// RetryConfig bounds automatic retry of transient agent failures.
type RetryConfig struct {
	MaxAttempts     int     `yaml:"max_attempts" json:"max_attempts"`
	BackoffSeconds  float64 `yaml:"backoff_seconds" json:"backoff_seconds"`
}

// Policy is the effective, resolved governance policy for a run, composed
// from universal -> organization -> client layers.
type Policy struct {
	Gates             []Gate                 `yaml:"gates" json:"gates"`
	Consensus         ConsensusConfig        `yaml:"consensus" json:"consensus"`
	Retry             RetryConfig            `yaml:"retry" json:"retry"`
	BaseRosters       map[string][]string    `yaml:"base_rosters" json:"base_rosters"` // phase -> agent roles
	RequiredArtifacts map[string][]string    `yaml:"required_artifacts" json:"required_artifacts"` // phase -> logical_name
	BudgetLimits      map[string]int64       `yaml:"budget_limits" json:"budget_limits"` // scope name -> token limit
	ThresholdRatio    float64                `yaml:"threshold_ratio" json:"threshold_ratio"`
	RequireSecurityScan bool                 `yaml:"require_security_scan" json:"require_security_scan"`
	Compliance        []string               `yaml:"compliance" json:"compliance"`
	Settings          map[string]string      `yaml:"settings" json:"settings"`
}
