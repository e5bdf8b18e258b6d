package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelflow/engine/pkg/models"
)

type fakeLister struct {
	runs []*models.Run
}

func (f *fakeLister) ListByStatus(_ context.Context, statuses ...models.RunStatus) ([]*models.Run, error) {
	want := make(map[models.RunStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []*models.Run
	for _, r := range f.runs {
		if want[r.Status] {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakePruner struct {
	pruned []string
}

func (f *fakePruner) PruneRun(_ context.Context, runID string) error {
	f.pruned = append(f.pruned, runID)
	return nil
}

func TestRunOncePrunesOnlyOldTerminalRuns(t *testing.T) {
	now := time.Now()
	lister := &fakeLister{runs: []*models.Run{
		{RunID: "old-completed", Status: models.RunStatusCompleted, UpdatedAt: now.AddDate(0, 0, -40)},
		{RunID: "fresh-completed", Status: models.RunStatusCompleted, UpdatedAt: now},
		{RunID: "old-running", Status: models.RunStatusRunning, UpdatedAt: now.AddDate(0, 0, -40)},
		{RunID: "old-failed", Status: models.RunStatusFailed, UpdatedAt: now.AddDate(0, 0, -90)},
	}}
	pruner := &fakePruner{}

	svc := NewService(Config{RunRetentionDays: 30, CleanupInterval: time.Hour}, lister, pruner)
	count := svc.RunOnce(context.Background())

	require.Equal(t, 2, count)
	assert.ElementsMatch(t, []string{"old-completed", "old-failed"}, pruner.pruned)
}

func TestRunOncePrunesAcrossAllRegisteredPruners(t *testing.T) {
	now := time.Now()
	lister := &fakeLister{runs: []*models.Run{
		{RunID: "old-aborted", Status: models.RunStatusAborted, UpdatedAt: now.AddDate(0, 0, -10)},
	}}
	a, b := &fakePruner{}, &fakePruner{}

	svc := NewService(Config{RunRetentionDays: 5, CleanupInterval: time.Hour}, lister, a, b)
	svc.RunOnce(context.Background())

	assert.Equal(t, []string{"old-aborted"}, a.pruned)
	assert.Equal(t, []string{"old-aborted"}, b.pruned)
}

func TestStartStopIsIdempotent(t *testing.T) {
	lister := &fakeLister{}
	svc := NewService(Config{RunRetentionDays: 30, CleanupInterval: time.Millisecond}, lister)

	svc.Start(context.Background())
	svc.Start(context.Background())
	svc.Stop()
	svc.Stop()
}
