package checkpoints

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelflow/engine/pkg/artifacts"
	"github.com/kestrelflow/engine/pkg/models"
)

func newTestStore(t *testing.T) (*Store, *artifacts.Store) {
	t.Helper()
	blobs := artifacts.NewStore(artifacts.NewMemBlobStore())
	return NewStore(NewMemBackend(), blobs), blobs
}

func TestCreateAssignsIncreasingVersions(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	cp1, err := store.Create(ctx, "run-1", "planning", models.CheckpointPost, models.OrchestratorState{}, nil, nil, nil, "")
	require.NoError(t, err)
	cp2, err := store.Create(ctx, "run-1", "planning", models.CheckpointPost, models.OrchestratorState{}, nil, nil, nil, "")
	require.NoError(t, err)

	assert.Equal(t, 1, cp1.Version)
	assert.Equal(t, 2, cp2.Version)
	assert.NotEqual(t, cp1.CheckpointID, cp2.CheckpointID)
}

func TestLoadDetectsIntegrityFailure(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	cp, err := store.Create(ctx, "run-1", "development", models.CheckpointPost, models.OrchestratorState{}, nil,
		map[string]models.ArtifactRefEntry{"report.md": {BlobHash: "missing-hash", Size: 3}}, nil, "")
	require.NoError(t, err)

	_, err = store.Load(ctx, cp.CheckpointID)
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestLoadPassesWhenArtifactsResolve(t *testing.T) {
	ctx := context.Background()
	store, blobStore := newTestStore(t)

	ref, err := blobStore.Put(ctx, "run-1", "development", "dev-agent", "report.md", models.ArtifactTypeMarkdown, []byte("hi"))
	require.NoError(t, err)

	cp, err := store.Create(ctx, "run-1", "development", models.CheckpointPost, models.OrchestratorState{}, nil,
		map[string]models.ArtifactRefEntry{"report.md": {BlobHash: ref.BlobHash, Size: ref.Size}}, nil, "")
	require.NoError(t, err)

	loaded, err := store.Load(ctx, cp.CheckpointID)
	require.NoError(t, err)
	assert.Equal(t, cp.CheckpointID, loaded.CheckpointID)
}

func TestRollbackTrimsCompletedPhasesAndCreatesDistinctVersions(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	devPost, err := store.Create(ctx, "run-1", "development", models.CheckpointPost, models.OrchestratorState{
		CurrentPhase:    "qa",
		CompletedPhases: []string{"planning", "development"},
	}, nil, nil, nil, "")
	require.NoError(t, err)

	rb1, err := store.Rollback(ctx, "run-1", devPost.CheckpointID)
	require.NoError(t, err)
	assert.Equal(t, models.CheckpointPreRollback, rb1.Kind)
	assert.Equal(t, devPost.CheckpointID, rb1.ParentCheckpointID)
	assert.Equal(t, "development", rb1.OrchestratorSnapshot.CurrentPhase)
	assert.Equal(t, []string{"planning"}, rb1.OrchestratorSnapshot.CompletedPhases)

	// S8 / property 6: rollback idempotence — calling again yields a
	// distinct id and a strictly increasing version.
	rb2, err := store.Rollback(ctx, "run-1", devPost.CheckpointID)
	require.NoError(t, err)
	assert.NotEqual(t, rb1.CheckpointID, rb2.CheckpointID)
	assert.Greater(t, rb2.Version, rb1.Version)
}

func TestCompareReportsAddedRemovedChanged(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	a, err := store.Create(ctx, "run-1", "qa", models.CheckpointPost, models.OrchestratorState{}, nil,
		map[string]models.ArtifactRefEntry{
			"kept.md":     {BlobHash: "h1"},
			"removed.md":  {BlobHash: "h2"},
			"changed.md":  {BlobHash: "h3"},
		}, nil, "")
	require.NoError(t, err)

	b, err := store.Create(ctx, "run-1", "qa", models.CheckpointPost, models.OrchestratorState{}, nil,
		map[string]models.ArtifactRefEntry{
			"kept.md":    {BlobHash: "h1"},
			"changed.md": {BlobHash: "h3-new"},
			"added.md":   {BlobHash: "h4"},
		}, nil, "")
	require.NoError(t, err)

	diff, err := store.Compare(ctx, a.CheckpointID, b.CheckpointID)
	require.NoError(t, err)
	assert.Equal(t, []string{"added.md"}, diff.AddedArtifacts)
	assert.Equal(t, []string{"removed.md"}, diff.RemovedArtifacts)
	assert.Equal(t, []string{"changed.md"}, diff.ChangedArtifacts)
}

func TestListForRunOrdersByPhaseThenVersion(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	_, err := store.Create(ctx, "run-1", "planning", models.CheckpointPre, models.OrchestratorState{}, nil, nil, nil, "")
	require.NoError(t, err)
	_, err = store.Create(ctx, "run-1", "planning", models.CheckpointPost, models.OrchestratorState{}, nil, nil, nil, "")
	require.NoError(t, err)
	_, err = store.Create(ctx, "run-1", "development", models.CheckpointPre, models.OrchestratorState{}, nil, nil, nil, "")
	require.NoError(t, err)

	list, err := store.ListForRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "planning", list[0].Phase)
	assert.Equal(t, "planning", list[1].Phase)
	assert.Equal(t, "development", list[2].Phase)
}
