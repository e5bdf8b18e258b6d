package swarm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kestrelflow/engine/pkg/models"
)

// FailureClass discriminates whether an agent failure is worth retrying.
type FailureClass string

// Failure classes.
const (
	FailureTransient FailureClass = "transient"
	FailurePermanent FailureClass = "permanent"
)

// ClassifiedError lets an AgentExecutorFunc tell the swarm executor
// whether a failure is worth retrying. An error that does not implement
// this interface is treated as permanent — retrying an error we cannot
// classify risks masking a real defect as transient noise.
type ClassifiedError interface {
	error
	Class() FailureClass
}

// classify extracts the FailureClass from err, defaulting to permanent.
func classify(err error) FailureClass {
	var ce ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class()
	}
	return FailurePermanent
}

// AgentExecutorFunc runs one agent request to completion. The swarm
// executor never constructs this itself — the agent dispatcher (pkg/dispatcher)
// supplies it, so this package has no compile-time dependency on it.
type AgentExecutorFunc func(ctx context.Context, req models.AgentRequest) (models.AgentOutput, error)

// PhaseStatus is the terminal state of one execute() call.
type PhaseStatus string

// Phase outcome statuses.
const (
	PhaseComplete  PhaseStatus = "complete"
	PhaseFailed    PhaseStatus = "failed"
	PhaseCancelled PhaseStatus = "cancelled"
)

// PhaseOutcome is execute()'s return value: per-agent results in roster
// order regardless of completion order.
type PhaseOutcome struct {
	Phase         string
	Status        PhaseStatus
	Results       []models.AgentOutput
	FailureReason string
}

// Options configures one Execute call.
type Options struct {
	// ConcurrencyLimit bounds how many agents within one level run at
	// once. Zero or negative means unbounded (len(level) at a time).
	ConcurrencyLimit int
	// RetryBudget is how many additional attempts a transient failure
	// gets before the phase gives up on that agent (default: 2).
	RetryBudget int
}

// Execute runs roster's agents level by level, honoring dependency order,
// bounded concurrency, cooperative cancellation, and the transient retry
// policy.
func Execute(ctx context.Context, roster models.AgentRoster, fn AgentExecutorFunc, opts Options) (PhaseOutcome, error) {
	agentLevels, err := levels(roster)
	if err != nil {
		return PhaseOutcome{}, err
	}

	limit := opts.ConcurrencyLimit
	if limit <= 0 {
		limit = len(roster.Agents)
		if limit == 0 {
			limit = 1
		}
	}
	retryBudget := opts.RetryBudget
	if retryBudget <= 0 {
		retryBudget = 2
	}

	resultsByID := make(map[string]models.AgentOutput, len(roster.Agents))
	var resultsMu sync.Mutex

	outcome := PhaseOutcome{Phase: roster.Phase, Status: PhaseComplete}

	for _, level := range agentLevels {
		if ctx.Err() != nil {
			outcome.Status = PhaseCancelled
			outcome.FailureReason = ctx.Err().Error()
			break
		}

		sem := semaphore.NewWeighted(int64(limit))
		group, groupCtx := errgroup.WithContext(ctx)

		var permanentFailure string
		var failureMu sync.Mutex

		for _, req := range level {
			req := req
			group.Go(func() error {
				if err := sem.Acquire(groupCtx, 1); err != nil {
					return nil // context cancelled; outer ctx.Err() check reports this
				}
				defer sem.Release(1)

				out, runErr := runWithRetry(groupCtx, req, fn, retryBudget)

				resultsMu.Lock()
				resultsByID[req.AgentID] = out
				resultsMu.Unlock()

				if runErr != nil && classify(runErr) == FailurePermanent {
					failureMu.Lock()
					if permanentFailure == "" {
						permanentFailure = fmt.Sprintf("agent %s: %v", req.AgentID, runErr)
					}
					failureMu.Unlock()
					return runErr
				}
				return nil
			})
		}

		// Wait for every scheduled peer in this level to finish
		// (success or failure) before deciding whether to continue —
		// dependents are cancelled, not retried.
		_ = group.Wait()

		if permanentFailure != "" {
			outcome.Status = PhaseFailed
			outcome.FailureReason = permanentFailure
			break
		}
		if ctx.Err() != nil {
			outcome.Status = PhaseCancelled
			outcome.FailureReason = ctx.Err().Error()
			break
		}
	}

	outcome.Results = orderedResults(roster, resultsByID)
	return outcome, nil
}

// runWithRetry invokes fn, retrying transient failures up to retryBudget
// additional times.
func runWithRetry(ctx context.Context, req models.AgentRequest, fn AgentExecutorFunc, retryBudget int) (models.AgentOutput, error) {
	var out models.AgentOutput
	var err error

	for attempt := 0; attempt <= retryBudget; attempt++ {
		out, err = fn(ctx, req)
		if err == nil {
			return out, nil
		}
		if classify(err) != FailureTransient {
			return out, err
		}
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
	}
	return out, err
}

// orderedResults returns results in roster declaration order regardless
// of completion order. Agents that never ran (because the phase was
// cancelled before their level dispatched) are simply absent.
func orderedResults(roster models.AgentRoster, byID map[string]models.AgentOutput) []models.AgentOutput {
	out := make([]models.AgentOutput, 0, len(roster.Agents))
	for _, a := range roster.Agents {
		if res, ok := byID[a.AgentID]; ok {
			out = append(out, res)
		}
	}
	return out
}
