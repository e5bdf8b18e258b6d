// Package governance implements the composable hierarchical policy engine
// universal -> organization -> client policy composition,
// per-phase gate selection, gate evaluation, and an immutable audit log.
package governance

import (
	"fmt"

	"dario.cat/mergo"

	"github.com/kestrelflow/engine/pkg/models"
)

// Compose layers universal, org and client policies: child overrides
// parent, maps merge shallow, scalars replace, and — resolving the Open
// Question this module settles by having lists replace wholesale rather
// than append. mergo's default slice behavior only overwrites an empty
// destination slice, so list fields are replaced by hand before the mergo
// pass runs over everything else.
func Compose(universal, org, client *models.Policy) (*models.Policy, error) {
	result := cloneOrEmpty(universal)

	for _, layer := range []*models.Policy{org, client} {
		if layer == nil {
			continue
		}
		layerCopy := *layer
		replaceListFields(result, &layerCopy)
		if err := mergo.Merge(result, &layerCopy, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("governance: compose: %w", err)
		}
	}
	return result, nil
}

func cloneOrEmpty(p *models.Policy) *models.Policy {
	if p == nil {
		return &models.Policy{
			BaseRosters:  make(map[string][]string),
			BudgetLimits: make(map[string]int64),
			Settings:     make(map[string]string),
		}
	}
	clone := *p
	clone.Gates = append([]models.Gate(nil), p.Gates...)
	clone.Consensus.AfterPhases = append([]string(nil), p.Consensus.AfterPhases...)
	clone.Compliance = append([]string(nil), p.Compliance...)
	clone.BaseRosters = cloneRosterMap(p.BaseRosters)
	clone.RequiredArtifacts = cloneRosterMap(p.RequiredArtifacts)
	clone.BudgetLimits = cloneInt64Map(p.BudgetLimits)
	clone.Settings = cloneStringMap(p.Settings)
	return &clone
}

// replaceListFields overwrites dst's list-valued fields with src's before
// the mergo pass, since those fields should fully replace rather than
// merge element-wise (lists replace wholesale).
func replaceListFields(dst, src *models.Policy) {
	if src.Gates != nil {
		dst.Gates = append([]models.Gate(nil), src.Gates...)
	}
	if src.Consensus.AfterPhases != nil {
		dst.Consensus.AfterPhases = append([]string(nil), src.Consensus.AfterPhases...)
	}
	if src.Compliance != nil {
		dst.Compliance = append([]string(nil), src.Compliance...)
	}
	for phase, roster := range src.BaseRosters {
		if dst.BaseRosters == nil {
			dst.BaseRosters = make(map[string][]string)
		}
		dst.BaseRosters[phase] = append([]string(nil), roster...)
	}
	for phase, names := range src.RequiredArtifacts {
		if dst.RequiredArtifacts == nil {
			dst.RequiredArtifacts = make(map[string][]string)
		}
		dst.RequiredArtifacts[phase] = append([]string(nil), names...)
	}
	// src's copies of these list-valued fields are cleared so the
	// subsequent mergo.Merge (which still walks the whole struct for
	// scalars and other maps) does not re-process or double-append them.
	srcCopy := *src
	srcCopy.Gates = nil
	srcCopy.Consensus.AfterPhases = nil
	srcCopy.Compliance = nil
	srcCopy.BaseRosters = nil
	srcCopy.RequiredArtifacts = nil
	*src = srcCopy
}

func cloneRosterMap(m map[string][]string) map[string][]string {
	out := make(map[string][]string, len(m))
	for k, v := range m {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func cloneInt64Map(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// GatesForPhase returns every gate in policy applicable to phase, in
// declared order.
func GatesForPhase(policy *models.Policy, phase string) []models.Gate {
	var out []models.Gate
	for _, g := range policy.Gates {
		if g.AppliesToPhase(phase) {
			out = append(out, g)
		}
	}
	return out
}
