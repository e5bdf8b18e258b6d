package budget

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelflow/engine/pkg/models"
)

type recordingEmitter struct {
	events []models.Event
}

func (r *recordingEmitter) Publish(_ context.Context, evt models.Event) {
	r.events = append(r.events, evt)
}

func TestAdmitDeniesWhenAncestorExhausted(t *testing.T) {
	ledger := NewLedger(nil, nil)
	path := ScopePath{RunID: "run-1", Phase: "planning", AgentID: "planner"}
	ledger.Configure(ScopePath{RunID: "run-1"}, 100)
	ledger.Configure(path, 1000) // agent budget is generous, but run is not

	ledger.Record(context.Background(), path, 80, 10, 0)

	decision := ledger.Admit(context.Background(), path, 50)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "run")
}

func TestAdmitAllowsWithinBudget(t *testing.T) {
	ledger := NewLedger(nil, nil)
	path := ScopePath{RunID: "run-1", Phase: "planning", AgentID: "planner"}
	ledger.Configure(ScopePath{RunID: "run-1"}, 10000)
	ledger.Configure(path, 5000)

	decision := ledger.Admit(context.Background(), path, 500)
	assert.True(t, decision.Allowed)
}

func TestRecordUpdatesEveryAncestorAtomically(t *testing.T) {
	ledger := NewLedger(nil, nil)
	path := ScopePath{RunID: "run-1", Phase: "development", AgentID: "dev-agent", Tool: "lint"}

	ledger.Record(context.Background(), path, 100, 50, 0.02)

	assert.Equal(t, int64(150), ledger.Snapshot(ScopePath{RunID: "run-1"}).InputTokens+ledger.Snapshot(ScopePath{RunID: "run-1"}).OutputTokens)
	assert.Equal(t, int64(150), ledger.Snapshot(ScopePath{RunID: "run-1", Phase: "development"}).InputTokens+ledger.Snapshot(ScopePath{RunID: "run-1", Phase: "development"}).OutputTokens)
	assert.Equal(t, int64(100), ledger.Snapshot(path).InputTokens)
	assert.Equal(t, int64(50), ledger.Snapshot(path).OutputTokens)
}

func TestRecordFiresThresholdEventOncePerScope(t *testing.T) {
	emitter := &recordingEmitter{}
	ledger := NewLedger(emitter, NewMetrics())
	path := ScopePath{RunID: "run-1", Phase: "qa"}
	ledger.Configure(path, 100)

	ledger.Record(context.Background(), path, 85, 0, 0) // crosses 0.8 * 100
	ledger.Record(context.Background(), path, 5, 0, 0)  // still above threshold, must not refire

	require.Len(t, emitter.events, 1)
	assert.Equal(t, models.EventBudgetThreshold, emitter.events[0].EventType)
}

func TestReportBuildsFullBreakdown(t *testing.T) {
	ledger := NewLedger(nil, nil)
	ledger.Record(context.Background(), ScopePath{RunID: "run-1", Phase: "planning", AgentID: "planner", Tool: "search"}, 10, 5, 0.01)
	ledger.Record(context.Background(), ScopePath{RunID: "run-1", Phase: "planning", AgentID: "planner"}, 20, 10, 0)

	report := ledger.Report("run-1")
	require.Contains(t, report.Phases, "planning")
	planning := report.Phases["planning"]
	require.Contains(t, planning.Agents, "planner")
	planner := planning.Agents["planner"]
	assert.Equal(t, int64(30), planner.Usage.InputTokens)
	require.Contains(t, planner.Tools, "search")
	assert.Equal(t, int64(10), planner.Tools["search"].InputTokens)
}

func TestSelectStrategyPicksRichestAffordable(t *testing.T) {
	floors := DefaultCostFloors()
	assert.Equal(t, StrategyThorough, SelectStrategy(9000, floors))
	assert.Equal(t, StrategyBalanced, SelectStrategy(3500, floors))
	assert.Equal(t, StrategyMinimal, SelectStrategy(600, floors))
	assert.Equal(t, StrategyThorough, SelectStrategy(-1, floors))
}

func TestEstimateTokensNonEmpty(t *testing.T) {
	count, err := EstimateTokens("the quick brown fox jumps over the lazy dog")
	require.NoError(t, err)
	assert.Greater(t, count, 0)
}
