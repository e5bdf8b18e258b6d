package swarm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelflow/engine/pkg/models"
)

type transientError struct{ msg string }

func (e *transientError) Error() string           { return e.msg }
func (e *transientError) Class() FailureClass      { return FailureTransient }

type permanentError struct{ msg string }

func (e *permanentError) Error() string      { return e.msg }
func (e *permanentError) Class() FailureClass { return FailurePermanent }

func TestExecuteReturnsResultsInRosterOrderRegardlessOfCompletionOrder(t *testing.T) {
	roster := models.AgentRoster{
		Phase: "development",
		Agents: []models.AgentRequest{
			{AgentID: "slow"},
			{AgentID: "fast"},
		},
	}

	fn := func(_ context.Context, req models.AgentRequest) (models.AgentOutput, error) {
		if req.AgentID == "slow" {
			time.Sleep(20 * time.Millisecond)
		}
		return models.AgentOutput{AgentID: req.AgentID, Status: models.ExecutionStatusCompleted}, nil
	}

	outcome, err := Execute(context.Background(), roster, fn, Options{ConcurrencyLimit: 2})
	require.NoError(t, err)
	assert.Equal(t, PhaseComplete, outcome.Status)
	require.Len(t, outcome.Results, 2)
	assert.Equal(t, "slow", outcome.Results[0].AgentID)
	assert.Equal(t, "fast", outcome.Results[1].AgentID)
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	roster := models.AgentRoster{
		Agents: []models.AgentRequest{{AgentID: "flaky"}},
	}

	var attempts atomic.Int32
	fn := func(_ context.Context, req models.AgentRequest) (models.AgentOutput, error) {
		n := attempts.Add(1)
		if n < 3 {
			return models.AgentOutput{}, &transientError{msg: "rate limited"}
		}
		return models.AgentOutput{AgentID: req.AgentID, Status: models.ExecutionStatusCompleted}, nil
	}

	outcome, err := Execute(context.Background(), roster, fn, Options{ConcurrencyLimit: 1, RetryBudget: 2})
	require.NoError(t, err)
	assert.Equal(t, PhaseComplete, outcome.Status)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestExecuteFailsPhaseOnPermanentError(t *testing.T) {
	roster := models.AgentRoster{
		Agents: []models.AgentRequest{
			{AgentID: "a"},
			{AgentID: "b", DependencyRefs: []string{"a"}},
		},
	}

	fn := func(_ context.Context, req models.AgentRequest) (models.AgentOutput, error) {
		if req.AgentID == "a" {
			return models.AgentOutput{AgentID: "a", Status: models.ExecutionStatusFailed}, &permanentError{msg: "schema violation"}
		}
		return models.AgentOutput{AgentID: req.AgentID, Status: models.ExecutionStatusCompleted}, nil
	}

	outcome, err := Execute(context.Background(), roster, fn, Options{ConcurrencyLimit: 1})
	require.NoError(t, err)
	assert.Equal(t, PhaseFailed, outcome.Status)
	assert.Contains(t, outcome.FailureReason, "a")
	// "b" never dispatched since its level never ran.
	assert.Len(t, outcome.Results, 1)
}

func TestExecuteBoundsConcurrency(t *testing.T) {
	roster := models.AgentRoster{}
	for i := 0; i < 6; i++ {
		roster.Agents = append(roster.Agents, models.AgentRequest{AgentID: fmt.Sprintf("agent-%d", i)})
	}

	var concurrent atomic.Int32
	var maxConcurrent atomic.Int32
	var mu sync.Mutex

	fn := func(_ context.Context, req models.AgentRequest) (models.AgentOutput, error) {
		n := concurrent.Add(1)
		mu.Lock()
		if n > maxConcurrent.Load() {
			maxConcurrent.Store(n)
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		concurrent.Add(-1)
		return models.AgentOutput{AgentID: req.AgentID, Status: models.ExecutionStatusCompleted}, nil
	}

	outcome, err := Execute(context.Background(), roster, fn, Options{ConcurrencyLimit: 2})
	require.NoError(t, err)
	assert.Equal(t, PhaseComplete, outcome.Status)
	assert.LessOrEqual(t, maxConcurrent.Load(), int32(2))
}

func TestExecuteCancellationStopsUnscheduledLevels(t *testing.T) {
	roster := models.AgentRoster{
		Agents: []models.AgentRequest{
			{AgentID: "a"},
			{AgentID: "b", DependencyRefs: []string{"a"}},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	fn := func(_ context.Context, req models.AgentRequest) (models.AgentOutput, error) {
		if req.AgentID == "a" {
			cancel()
		}
		return models.AgentOutput{AgentID: req.AgentID, Status: models.ExecutionStatusCompleted}, nil
	}

	outcome, err := Execute(ctx, roster, fn, Options{ConcurrencyLimit: 1})
	require.NoError(t, err)
	assert.Equal(t, PhaseCancelled, outcome.Status)
	assert.Len(t, outcome.Results, 1)
}
