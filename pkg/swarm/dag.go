// Package swarm implements the dependency-ordered, bounded-concurrency
// agent executor: build a DAG from the roster's declared
// dependencies, level it via Kahn's algorithm, and dispatch each level
// with up to concurrency_limit agents running at once.
package swarm

import (
	"fmt"

	"github.com/kestrelflow/engine/pkg/models"
)

// InvalidGraphError is returned when a roster's dependency_refs contain a
// cycle or reference an unknown agent id.
type InvalidGraphError struct {
	Reason string
}

func (e *InvalidGraphError) Error() string {
	return fmt.Sprintf("swarm: invalid roster graph: %s", e.Reason)
}

// levels builds the Kahn's-algorithm topological leveling of roster:
// level 0 holds every node with zero in-degree, level N+1 holds nodes
// that become unblocked once every level-<=N node has been "removed".
// Within a level, order matches the roster's declared order (stable).
func levels(roster models.AgentRoster) ([][]models.AgentRequest, error) {
	indegree := make(map[string]int, len(roster.Agents))
	dependents := make(map[string][]string) // agent_id -> ids that depend on it
	byID := make(map[string]models.AgentRequest, len(roster.Agents))

	for _, a := range roster.Agents {
		byID[a.AgentID] = a
		if _, ok := indegree[a.AgentID]; !ok {
			indegree[a.AgentID] = 0
		}
	}
	for _, a := range roster.Agents {
		for _, dep := range a.DependencyRefs {
			if _, ok := byID[dep]; !ok {
				return nil, &InvalidGraphError{Reason: fmt.Sprintf("agent %q depends on unknown agent %q", a.AgentID, dep)}
			}
			indegree[a.AgentID]++
			dependents[dep] = append(dependents[dep], a.AgentID)
		}
	}

	remaining := indegree
	var out [][]models.AgentRequest
	scheduled := make(map[string]bool, len(roster.Agents))

	for len(scheduled) < len(roster.Agents) {
		var level []models.AgentRequest
		for _, a := range roster.Agents { // roster order, for stability within a level
			if scheduled[a.AgentID] {
				continue
			}
			if remaining[a.AgentID] == 0 {
				level = append(level, a)
			}
		}
		if len(level) == 0 {
			return nil, &InvalidGraphError{Reason: "cycle detected in dependency_refs"}
		}

		for _, a := range level {
			scheduled[a.AgentID] = true
			for _, dependent := range dependents[a.AgentID] {
				remaining[dependent]--
			}
		}
		out = append(out, level)
	}
	return out, nil
}
