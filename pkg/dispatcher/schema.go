package dispatcher

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/kestrelflow/engine/pkg/models"
)

// RoleArtifact is one artifact a RoleHandler hands back to the dispatcher
// for storage. The dispatcher, not the handler, owns content-addressing.
type RoleArtifact struct {
	LogicalName string             `validate:"required"`
	Type        models.ArtifactType `validate:"required,oneof=markdown json code yaml tabular"`
	Data        []byte             `validate:"required,min=1"`
}

// RoleOutput is the common shape every role-specific callable returns.
// go-playground/validator/v10 struct tags give every role the same
// uniform structural validation every role needs ("the output schema
// is attached to the role, validated uniformly"); RoleExtras below adds
// the handful of per-role checks a flat struct can't express.
type RoleOutput struct {
	Status     models.ExecutionStatus `validate:"required,oneof=completed failed cancelled"`
	Summary    string                 `validate:"required"`
	Artifacts  []RoleArtifact         `validate:"dive"`
	TokenUsage models.TokenUsage
	Errors     []string
	// Details carries role-specific structured fields (e.g. a
	// security_auditor's findings, a performance_engineer's measured
	// p95). RoleExtras validates the keys a given role is expected to
	// populate.
	Details map[string]any
}

// RoleExtras is a per-role supplement to the uniform RoleOutput
// validation — e.g. a security_auditor output without a "findings" key
// is structurally valid RoleOutput but not a usable security report.
type RoleExtras func(details map[string]any) error

var (
	validate = validator.New()

	extrasMu sync.RWMutex
	extras   = map[string]RoleExtras{
		"security_auditor":     requireDetailKeys("findings"),
		"performance_engineer": requireDetailKeys("p95_ms"),
		"database_architect":   requireDetailKeys("schema_changes"),
	}
)

// RegisterRoleExtras installs (or overrides) the per-role schema
// supplement for role. Policy-driven rosters can introduce roles the
// built-in registry has never heard of; those fall back to no extra
// checks beyond the uniform RoleOutput validation.
func RegisterRoleExtras(role string, fn RoleExtras) {
	extrasMu.Lock()
	defer extrasMu.Unlock()
	extras[role] = fn
}

func requireDetailKeys(keys ...string) RoleExtras {
	return func(details map[string]any) error {
		for _, k := range keys {
			if _, ok := details[k]; !ok {
				return fmt.Errorf("missing required detail %q", k)
			}
		}
		return nil
	}
}

// validateOutput runs the uniform struct validation plus role's extras,
// if any are registered.
func validateOutput(role string, out RoleOutput) error {
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("output schema: %w", err)
	}

	extrasMu.RLock()
	fn, ok := extras[role]
	extrasMu.RUnlock()
	if !ok {
		return nil
	}
	if err := fn(out.Details); err != nil {
		return fmt.Errorf("output schema for role %q: %w", role, err)
	}
	return nil
}
