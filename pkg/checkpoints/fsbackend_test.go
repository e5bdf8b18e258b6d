package checkpoints

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelflow/engine/pkg/models"
)

func TestFSBackendSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	backend, err := NewFSBackend(dir)
	require.NoError(t, err)

	cp := &models.Checkpoint{
		CheckpointID: "cp-1",
		RunID:        "run-fs-1",
		Phase:        "planning",
		Kind:         models.CheckpointPost,
		Version:      1,
	}
	require.NoError(t, backend.Save(ctx, cp))

	loaded, err := backend.Load(ctx, "cp-1")
	require.NoError(t, err)
	assert.Equal(t, cp.RunID, loaded.RunID)
	assert.Equal(t, cp.Phase, loaded.Phase)
}

func TestFSBackendRejectsVersionCollision(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	backend, err := NewFSBackend(dir)
	require.NoError(t, err)

	cp := &models.Checkpoint{CheckpointID: "cp-1", RunID: "run-fs-2", Phase: "planning", Kind: models.CheckpointPost, Version: 1}
	require.NoError(t, backend.Save(ctx, cp))

	cp2 := &models.Checkpoint{CheckpointID: "cp-2", RunID: "run-fs-2", Phase: "planning", Kind: models.CheckpointPost, Version: 1}
	assert.Error(t, backend.Save(ctx, cp2))
}

func TestFSBackendIgnoresLeftoverTempFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	backend, err := NewFSBackend(dir)
	require.NoError(t, err)

	cp := &models.Checkpoint{CheckpointID: "cp-1", RunID: "run-fs-3", Phase: "development", Kind: models.CheckpointPre, Version: 1}
	require.NoError(t, backend.Save(ctx, cp))

	// Simulate a crash mid-write: a .tmp-* file left behind in the run's
	// checkpoints directory from an interrupted Save.
	leftover := filepath.Join(backend.runDir("run-fs-3"), ".tmp-half-written")
	require.NoError(t, os.WriteFile(leftover, []byte("{not valid json"), 0o644))

	list, err := backend.ListForRun(ctx, "run-fs-3")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "cp-1", list[0].CheckpointID)
}

func TestFSBackendListForRunEmptyWhenNoRunDir(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	backend, err := NewFSBackend(dir)
	require.NoError(t, err)

	list, err := backend.ListForRun(ctx, "never-existed")
	require.NoError(t, err)
	assert.Empty(t, list)
}
