package checkpoints

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kestrelflow/engine/pkg/models"
)

// MemBackend is an in-memory Backend used by unit tests.
type MemBackend struct {
	mu   sync.RWMutex
	byID map[string]*models.Checkpoint
}

// NewMemBackend creates an empty in-memory checkpoint backend.
func NewMemBackend() *MemBackend {
	return &MemBackend{byID: make(map[string]*models.Checkpoint)}
}

// Save stores cp, rejecting a second write for the same checkpoint id.
func (m *MemBackend) Save(_ context.Context, cp *models.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[cp.CheckpointID]; exists {
		return fmt.Errorf("checkpoints: checkpoint %s already saved", cp.CheckpointID)
	}
	cpCopy := *cp
	m.byID[cp.CheckpointID] = &cpCopy
	return nil
}

// Load returns the checkpoint for checkpointID.
func (m *MemBackend) Load(_ context.Context, checkpointID string) (*models.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.byID[checkpointID]
	if !ok {
		return nil, fmt.Errorf("%w: checkpoint %s", ErrNotFound, checkpointID)
	}
	cpCopy := *cp
	return &cpCopy, nil
}

// ListForRun returns every checkpoint recorded for runID, oldest first.
func (m *MemBackend) ListForRun(_ context.Context, runID string) ([]*models.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Checkpoint
	for _, cp := range m.byID {
		if cp.RunID == runID {
			cpCopy := *cp
			out = append(out, &cpCopy)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
