// Package pgstore is a Postgres-backed checkpoints.Backend, an alternative
// to the filesystem backend for deployments that want checkpoints queryable
// and shareable across engine processes rather than confined to one host's
// disk.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kestrelflow/engine/pkg/checkpoints"
	"github.com/kestrelflow/engine/pkg/models"
)

// Backend implements checkpoints.Backend against a Postgres database,
// storing each checkpoint's nested maps as JSONB columns and relying on a
// unique (run_id, phase, kind, version) constraint to surface version
// collisions as a database error rather than a silent overwrite.
type Backend struct {
	pool *pgxpool.Pool
}

// New wraps an already-connected pool. Callers that want schema migrations
// applied first should call Migrate(dsn) before New, or pass the same dsn
// to both.
func New(pool *pgxpool.Pool) *Backend {
	return &Backend{pool: pool}
}

// Open builds a pool for dsn and returns a ready-to-use Backend.
func Open(ctx context.Context, dsn string) (*Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	return New(pool), nil
}

// Close releases the underlying connection pool.
func (b *Backend) Close() {
	b.pool.Close()
}

// Save inserts cp, failing with a wrapped pgx error if (run_id, phase,
// kind, version) already exists.
func (b *Backend) Save(ctx context.Context, cp *models.Checkpoint) error {
	artifacts, err := json.Marshal(cp.Artifacts)
	if err != nil {
		return fmt.Errorf("pgstore: marshal artifacts: %w", err)
	}
	agentStates, err := json.Marshal(cp.AgentStates)
	if err != nil {
		return fmt.Errorf("pgstore: marshal agent_states: %w", err)
	}
	snapshot, err := json.Marshal(cp.OrchestratorSnapshot)
	if err != nil {
		return fmt.Errorf("pgstore: marshal orchestrator_snapshot: %w", err)
	}
	governance, err := json.Marshal(cp.GovernanceResults)
	if err != nil {
		return fmt.Errorf("pgstore: marshal governance_results: %w", err)
	}
	metadata, err := json.Marshal(cp.Metadata)
	if err != nil {
		return fmt.Errorf("pgstore: marshal metadata: %w", err)
	}

	_, err = b.pool.Exec(ctx, `
		INSERT INTO checkpoints (
			checkpoint_id, run_id, phase, kind, version, created_at, duration_ms,
			parent_checkpoint_id, artifacts, agent_states, orchestrator_snapshot,
			governance_results, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		cp.CheckpointID, cp.RunID, cp.Phase, string(cp.Kind), cp.Version, cp.CreatedAt, cp.DurationMS,
		nullIfEmpty(cp.ParentCheckpointID), artifacts, agentStates, snapshot, governance, metadata,
	)
	if err != nil {
		return fmt.Errorf("pgstore: insert checkpoint %s: %w", cp.CheckpointID, err)
	}
	return nil
}

// Load retrieves a checkpoint by id.
func (b *Backend) Load(ctx context.Context, checkpointID string) (*models.Checkpoint, error) {
	row := b.pool.QueryRow(ctx, selectColumns+" WHERE checkpoint_id = $1", checkpointID)
	cp, err := scanCheckpoint(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: checkpoint %s", checkpoints.ErrNotFound, checkpointID)
		}
		return nil, fmt.Errorf("pgstore: load %s: %w", checkpointID, err)
	}
	return cp, nil
}

// ListForRun returns every checkpoint for runID, oldest first.
func (b *Backend) ListForRun(ctx context.Context, runID string) ([]*models.Checkpoint, error) {
	rows, err := b.pool.Query(ctx, selectColumns+" WHERE run_id = $1 ORDER BY created_at", runID)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []*models.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("pgstore: scan checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// PruneRun deletes every checkpoint row for runID.
func (b *Backend) PruneRun(ctx context.Context, runID string) error {
	if _, err := b.pool.Exec(ctx, `DELETE FROM checkpoints WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("pgstore: prune run %s: %w", runID, err)
	}
	return nil
}

const selectColumns = `
	SELECT checkpoint_id, run_id, phase, kind, version, created_at, duration_ms,
	       COALESCE(parent_checkpoint_id, ''), artifacts, agent_states,
	       orchestrator_snapshot, governance_results, metadata
	FROM checkpoints`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (*models.Checkpoint, error) {
	var cp models.Checkpoint
	var kind string
	var artifacts, agentStates, snapshot, governance, metadata []byte

	if err := row.Scan(
		&cp.CheckpointID, &cp.RunID, &cp.Phase, &kind, &cp.Version, &cp.CreatedAt, &cp.DurationMS,
		&cp.ParentCheckpointID, &artifacts, &agentStates, &snapshot, &governance, &metadata,
	); err != nil {
		return nil, err
	}
	cp.Kind = models.CheckpointKind(kind)

	if err := json.Unmarshal(artifacts, &cp.Artifacts); err != nil {
		return nil, fmt.Errorf("unmarshal artifacts: %w", err)
	}
	if err := json.Unmarshal(agentStates, &cp.AgentStates); err != nil {
		return nil, fmt.Errorf("unmarshal agent_states: %w", err)
	}
	if err := json.Unmarshal(snapshot, &cp.OrchestratorSnapshot); err != nil {
		return nil, fmt.Errorf("unmarshal orchestrator_snapshot: %w", err)
	}
	if err := json.Unmarshal(governance, &cp.GovernanceResults); err != nil {
		return nil, fmt.Errorf("unmarshal governance_results: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &cp.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &cp, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ checkpoints.Backend = (*Backend)(nil)
