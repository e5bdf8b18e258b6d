package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kestrelflow/engine/pkg/models"
)

func basePolicy() models.Policy {
	return models.Policy{
		BaseRosters: map[string][]string{
			"development": {"solution_architect", "developer", "qa"},
		},
	}
}

func roleNames(r models.AgentRoster) []string {
	out := make([]string, len(r.Agents))
	for i, a := range r.Agents {
		out[i] = a.Role
	}
	return out
}

func TestRosterPlainAnalyticsHasNoSpecialists(t *testing.T) {
	intake := models.Intake{ProjectName: "Q3 forecast", ProjectType: models.ProfileAnalytics, Environment: models.EnvironmentStaging}
	roster := Roster(intake, basePolicy(), "development")
	assert.Equal(t, []string{"solution_architect", "developer", "qa"}, roleNames(roster))
}

func TestRosterInsertsDatabaseArchitectBeforeDeveloper(t *testing.T) {
	intake := models.Intake{ProjectName: "p", ProjectType: models.ProfileML, Requirements: []string{"needs a new Postgres schema"}}
	roster := Roster(intake, basePolicy(), "development")
	assert.Equal(t, []string{"solution_architect", "database_architect", "developer", "qa"}, roleNames(roster))
}

func TestRosterAppendsPerformanceEngineerInProduction(t *testing.T) {
	intake := models.Intake{ProjectName: "p", ProjectType: models.ProfileWebapp, Environment: models.EnvironmentProduction}
	roster := Roster(intake, basePolicy(), "development")
	assert.Contains(t, roleNames(roster), "performance_engineer")
	// Inserted after qa, the last of the anchor roles present.
	assert.Equal(t, "performance_engineer", roleNames(roster)[len(roleNames(roster))-1])
}

func TestRosterAppendsSecurityAuditorForGDPR(t *testing.T) {
	intake := models.Intake{ProjectName: "p", ProjectType: models.ProfileWebapp, Compliance: []models.ComplianceRegime{models.ComplianceGDPR}}
	roster := Roster(intake, basePolicy(), "development")
	assert.Contains(t, roleNames(roster), "security_auditor")
}

func TestRosterDedupesWhenBaseAlreadyDeclaresSpecialist(t *testing.T) {
	policy := basePolicy()
	policy.BaseRosters["development"] = []string{"developer", "database_architect", "qa"}
	intake := models.Intake{ProjectName: "p", ProjectType: models.ProfileML, Data: models.DataSpec{Sources: []string{"warehouse"}}}
	roster := Roster(intake, policy, "development")
	names := roleNames(roster)
	count := 0
	for _, n := range names {
		if n == "database_architect" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func agentByRole(r models.AgentRoster, role string) models.AgentRequest {
	for _, a := range r.Agents {
		if a.Role == role {
			return a
		}
	}
	return models.AgentRequest{}
}

func TestRosterDependencyRefsOrderSpecialistsAgainstAnchors(t *testing.T) {
	intake := models.Intake{
		ProjectName:  "p",
		ProjectType:  models.ProfileML,
		Environment:  models.EnvironmentProduction,
		Requirements: []string{"needs a new Postgres schema"},
		Compliance:   []models.ComplianceRegime{models.ComplianceGDPR},
	}
	roster := Roster(intake, basePolicy(), "development")

	developer := agentByRole(roster, "developer")
	assert.Equal(t, []string{"database_architect"}, developer.DependencyRefs)

	performance := agentByRole(roster, "performance_engineer")
	assert.Equal(t, []string{"developer", "qa"}, performance.DependencyRefs)

	security := agentByRole(roster, "security_auditor")
	assert.Equal(t, []string{"developer", "qa"}, security.DependencyRefs)

	architect := agentByRole(roster, "database_architect")
	assert.Empty(t, architect.DependencyRefs)
}

func TestRosterLeavesSpecialistOutWhenAnchorAbsent(t *testing.T) {
	policy := basePolicy()
	policy.BaseRosters["planning"] = []string{"solution_architect"}
	intake := models.Intake{ProjectName: "p", ProjectType: models.ProfileML, Data: models.DataSpec{Sources: []string{"warehouse"}}}
	roster := Roster(intake, policy, "planning")
	assert.NotContains(t, roleNames(roster), "database_architect")
}
