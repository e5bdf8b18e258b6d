package swarm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelflow/engine/pkg/models"
)

func TestLevelsOrdersByDependency(t *testing.T) {
	roster := models.AgentRoster{
		Phase: "development",
		Agents: []models.AgentRequest{
			{AgentID: "a"},
			{AgentID: "b", DependencyRefs: []string{"a"}},
			{AgentID: "c", DependencyRefs: []string{"a"}},
			{AgentID: "d", DependencyRefs: []string{"b", "c"}},
		},
	}

	lv, err := levels(roster)
	require.NoError(t, err)
	require.Len(t, lv, 3)
	assert.Equal(t, []string{"a"}, ids(lv[0]))
	assert.ElementsMatch(t, []string{"b", "c"}, ids(lv[1]))
	assert.Equal(t, []string{"d"}, ids(lv[2]))
}

func TestLevelsPreservesRosterOrderWithinLevel(t *testing.T) {
	roster := models.AgentRoster{
		Agents: []models.AgentRequest{
			{AgentID: "z"},
			{AgentID: "y"},
			{AgentID: "x"},
		},
	}
	lv, err := levels(roster)
	require.NoError(t, err)
	require.Len(t, lv, 1)
	assert.Equal(t, []string{"z", "y", "x"}, ids(lv[0]))
}

func TestLevelsRejectsCycle(t *testing.T) {
	roster := models.AgentRoster{
		Agents: []models.AgentRequest{
			{AgentID: "a", DependencyRefs: []string{"b"}},
			{AgentID: "b", DependencyRefs: []string{"a"}},
		},
	}
	_, err := levels(roster)
	require.Error(t, err)
	var invalidGraph *InvalidGraphError
	assert.ErrorAs(t, err, &invalidGraph)
}

func TestLevelsRejectsUnknownDependency(t *testing.T) {
	roster := models.AgentRoster{
		Agents: []models.AgentRequest{
			{AgentID: "a", DependencyRefs: []string{"ghost"}},
		},
	}
	_, err := levels(roster)
	require.Error(t, err)
}

func ids(reqs []models.AgentRequest) []string {
	out := make([]string, len(reqs))
	for i, r := range reqs {
		out[i] = r.AgentID
	}
	return out
}
