package governance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelflow/engine/pkg/models"
)

func TestComposeChildOverridesScalar(t *testing.T) {
	universal := &models.Policy{ThresholdRatio: 0.8}
	org := &models.Policy{ThresholdRatio: 0.9}

	composed, err := Compose(universal, org, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.9, composed.ThresholdRatio)
}

func TestComposeListsReplaceNotAppend(t *testing.T) {
	universal := &models.Policy{
		Gates: []models.Gate{{GateID: "universal-gate"}},
	}
	client := &models.Policy{
		Gates: []models.Gate{{GateID: "client-gate"}},
	}

	composed, err := Compose(universal, nil, client)
	require.NoError(t, err)
	require.Len(t, composed.Gates, 1)
	assert.Equal(t, "client-gate", composed.Gates[0].GateID)
}

func TestComposeMapsMergeShallow(t *testing.T) {
	universal := &models.Policy{
		BaseRosters: map[string][]string{
			"planning":    {"lead_planner"},
			"development": {"dev_agent"},
		},
	}
	org := &models.Policy{
		BaseRosters: map[string][]string{
			"development": {"dev_agent", "database_architect"},
		},
	}

	composed, err := Compose(universal, org, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"lead_planner"}, composed.BaseRosters["planning"])
	assert.Equal(t, []string{"dev_agent", "database_architect"}, composed.BaseRosters["development"])
}

func TestComposeDoesNotMutateInputLayers(t *testing.T) {
	universal := &models.Policy{Gates: []models.Gate{{GateID: "u"}}}
	client := &models.Policy{Gates: []models.Gate{{GateID: "c"}}}

	_, err := Compose(universal, nil, client)
	require.NoError(t, err)

	require.Len(t, client.Gates, 1)
	assert.Equal(t, "c", client.Gates[0].GateID)
}

func TestGatesForPhaseFiltersByApplicability(t *testing.T) {
	policy := &models.Policy{
		Gates: []models.Gate{
			{GateID: "qa-only", PhaseApplicability: []string{"qa"}},
			{GateID: "dev-only", PhaseApplicability: []string{"development"}},
		},
	}
	gates := GatesForPhase(policy, "qa")
	require.Len(t, gates, 1)
	assert.Equal(t, "qa-only", gates[0].GateID)
}
