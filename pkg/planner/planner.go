// Package planner implements the auto-detection planner:
// given an intake, a composed policy, and a phase name, it derives the
// agent roster the swarm executor will run, starting from the profile's
// declared base roster and inserting specialist roles the intake's
// content and constraints call for.
package planner

import (
	"strings"

	"github.com/kestrelflow/engine/pkg/models"
)

const (
	roleDeveloper           = "developer"
	roleQA                  = "qa"
	roleDatabaseArchitect   = "database_architect"
	rolePerformanceEngineer = "performance_engineer"
	roleSecurityAuditor     = "security_auditor"
)

var databaseMarkers = []string{"database", "sql", "schema", "postgres", "mysql", "table", "migration"}
var performanceMarkers = []string{"performance", "latency", "throughput", "scalability", "load test"}

// Roster derives the AgentRoster for phase from intake and the composed
// policy.
func Roster(intake models.Intake, policy models.Policy, phase string) models.AgentRoster {
	roles := append([]string(nil), policy.BaseRosters[phase]...)

	if hasDatabaseMarkers(intake) {
		roles = insertBefore(roles, roleDatabaseArchitect, roleDeveloper)
	}
	if wantsPerformanceEngineer(intake) {
		roles = appendAfterAny(roles, rolePerformanceEngineer, roleDeveloper, roleQA)
	}
	if wantsSecurityAuditor(intake, policy) {
		roles = appendAfterAny(roles, roleSecurityAuditor, roleDeveloper, roleQA)
	}

	roles = dedupe(roles)
	deps := dependencyRefs(roles)

	roster := models.AgentRoster{Phase: phase, Agents: make([]models.AgentRequest, 0, len(roles))}
	for _, role := range roles {
		roster.Agents = append(roster.Agents, models.AgentRequest{AgentID: role, Role: role, DependencyRefs: deps[role]})
	}
	return roster
}

// dependencyRefs turns the insertion intent of insertBefore/appendAfterAny
// into explicit agent_id dependencies, keyed by agent_id, so the swarm
// executor's DAG actually serializes specialists against the roles they
// were inserted around instead of running every agent at a single,
// fully-concurrent level.
func dependencyRefs(roles []string) map[string][]string {
	has := func(role string) bool { return containsRole(roles, role) }

	deps := make(map[string][]string)
	if has(roleDatabaseArchitect) && has(roleDeveloper) {
		deps[roleDeveloper] = append(deps[roleDeveloper], roleDatabaseArchitect)
	}
	for _, dependent := range []string{rolePerformanceEngineer, roleSecurityAuditor} {
		if !has(dependent) {
			continue
		}
		for _, anchor := range []string{roleDeveloper, roleQA} {
			if has(anchor) {
				deps[dependent] = append(deps[dependent], anchor)
			}
		}
	}
	return deps
}

func containsRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func hasDatabaseMarkers(intake models.Intake) bool {
	if len(intake.Data.Sources) > 0 || len(intake.Data.SchemaHints) > 0 {
		return true
	}
	return containsAnyKeyword(intakeText(intake), databaseMarkers)
}

func wantsPerformanceEngineer(intake models.Intake) bool {
	if intake.PerformanceSLAs.LatencyP95MS > 0 {
		return true
	}
	if intake.Environment == models.EnvironmentProduction {
		return true
	}
	return containsAnyKeyword(intakeText(intake), performanceMarkers)
}

func wantsSecurityAuditor(intake models.Intake, policy models.Policy) bool {
	if policy.RequireSecurityScan {
		return true
	}
	if intake.Environment == models.EnvironmentProduction {
		return true
	}
	for _, regime := range intake.Compliance {
		switch regime {
		case models.ComplianceGDPR, models.ComplianceHIPAA, models.ComplianceSOC2:
			return true
		}
	}
	for _, regime := range policy.Compliance {
		switch models.ComplianceRegime(strings.ToLower(regime)) {
		case models.ComplianceGDPR, models.ComplianceHIPAA, models.ComplianceSOC2:
			return true
		}
	}
	return false
}

func intakeText(intake models.Intake) string {
	var b strings.Builder
	b.WriteString(intake.Description)
	b.WriteByte(' ')
	for _, r := range intake.Requirements {
		b.WriteString(r)
		b.WriteByte(' ')
	}
	for k := range intake.Data.SchemaHints {
		b.WriteString(k)
		b.WriteByte(' ')
	}
	return strings.ToLower(b.String())
}

func containsAnyKeyword(haystack string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

// insertBefore inserts role immediately before the first occurrence of
// anchor in roles. If anchor is absent, role is left out entirely — a
// database_architect with no developer to precede has nothing to do in
// this roster.
func insertBefore(roles []string, role, anchor string) []string {
	for i, r := range roles {
		if r == anchor {
			out := make([]string, 0, len(roles)+1)
			out = append(out, roles[:i]...)
			out = append(out, role)
			out = append(out, roles[i:]...)
			return out
		}
	}
	return roles
}

// appendAfterAny inserts role immediately after the last occurrence among
// anchors found in roles. If none of anchors are present, role is left
// out.
func appendAfterAny(roles []string, role string, anchors ...string) []string {
	insertAt := -1
	for i, r := range roles {
		for _, a := range anchors {
			if r == a {
				insertAt = i + 1
			}
		}
	}
	if insertAt < 0 {
		return roles
	}
	out := make([]string, 0, len(roles)+1)
	out = append(out, roles[:insertAt]...)
	out = append(out, role)
	out = append(out, roles[insertAt:]...)
	return out
}

func dedupe(roles []string) []string {
	seen := make(map[string]bool, len(roles))
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}
