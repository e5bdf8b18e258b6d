//go:build integration

// Package integration holds tests that need a real Postgres instance,
// spun up via testcontainers-go, scoped to this module's own
// checkpoints.Backend contract.
package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kestrelflow/engine/pkg/checkpoints"
	"github.com/kestrelflow/engine/pkg/checkpoints/pgstore"
	"github.com/kestrelflow/engine/pkg/models"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("kestrelflow_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connStr
}

func TestPostgresBackendRoundTrip(t *testing.T) {
	dsn := startPostgres(t)
	require.NoError(t, pgstore.Migrate(dsn))

	ctx := context.Background()
	backend, err := pgstore.Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(backend.Close)

	store := checkpoints.NewStore(backend, nil)

	cp, err := store.Create(ctx, "run-1", "planning", models.CheckpointPre,
		models.OrchestratorState{Profile: models.ProfileAnalytics, Status: models.RunStatusRunning, CurrentPhase: "planning"},
		nil,
		map[string]models.ArtifactRefEntry{"plan.md": {BlobHash: "abc123", Size: 10}},
		nil, "")
	require.NoError(t, err)
	require.Equal(t, 1, cp.Version)

	loaded, err := store.Load(ctx, cp.CheckpointID)
	require.NoError(t, err)
	require.Equal(t, "run-1", loaded.RunID)
	require.Equal(t, "abc123", loaded.Artifacts["plan.md"].BlobHash)

	list, err := store.ListForRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
}
