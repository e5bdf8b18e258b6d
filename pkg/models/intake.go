package models

// Environment is the target deployment environment named in an intake
// document.
type Environment string

// Environments.
const (
	EnvironmentDev        Environment = "dev"
	EnvironmentStaging    Environment = "staging"
	EnvironmentProduction Environment = "production"
)

// ComplianceRegime is a recognized compliance obligation an intake may
// declare.
type ComplianceRegime string

// Compliance regimes.
const (
	ComplianceGDPR  ComplianceRegime = "gdpr"
	ComplianceHIPAA ComplianceRegime = "hipaa"
	ComplianceSOC2  ComplianceRegime = "soc2"
)

// DataSpec is the intake's optional `data` section.
type DataSpec struct {
	Sources     []string          `yaml:"sources,omitempty" json:"sources,omitempty"`
	SchemaHints map[string]string `yaml:"schema_hints,omitempty" json:"schema_hints,omitempty"`
}

// PerformanceSLAs is the intake's optional `performance_slas` section.
// Only latency_p95_ms is given first-class recognition.
type PerformanceSLAs struct {
	LatencyP95MS int `yaml:"latency_p95_ms,omitempty" json:"latency_p95_ms,omitempty"`
}

// Intake is the structured project specification that kicks off a run
// Field validation is enforced by pkg/intake at load time;
// this type is the canonical in-memory representation consumed by the
// planner and the run engine.
type Intake struct {
	ProjectName      string            `yaml:"project_name" json:"project_name" validate:"required"`
	ProjectType      Profile           `yaml:"project_type" json:"project_type" validate:"required,oneof=analytics ml webapp optimization"`
	Description      string            `yaml:"description,omitempty" json:"description,omitempty"`
	Requirements     []string          `yaml:"requirements,omitempty" json:"requirements,omitempty"`
	Environment      Environment       `yaml:"environment,omitempty" json:"environment,omitempty" validate:"omitempty,oneof=dev staging production"`
	Constraints      map[string]string `yaml:"constraints,omitempty" json:"constraints,omitempty"`
	Data             DataSpec          `yaml:"data,omitempty" json:"data,omitempty"`
	Compliance       []ComplianceRegime `yaml:"compliance,omitempty" json:"compliance,omitempty" validate:"dive,oneof=gdpr hipaa soc2"`
	PerformanceSLAs  PerformanceSLAs   `yaml:"performance_slas,omitempty" json:"performance_slas,omitempty"`
	BrandConstraints map[string]string `yaml:"brand_constraints,omitempty" json:"brand_constraints,omitempty"`
}

// HasCompliance reports whether the intake declares regime.
func (i Intake) HasCompliance(regime ComplianceRegime) bool {
	for _, c := range i.Compliance {
		if c == regime {
			return true
		}
	}
	return false
}
