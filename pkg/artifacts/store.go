// Package artifacts implements the content-addressed artifact store
// blobs are addressed by SHA-256 hash and deduplicated;
// each Put records a distinct ArtifactRef with producer metadata even when
// the underlying bytes already exist.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kestrelflow/engine/pkg/ids"
	"github.com/kestrelflow/engine/pkg/models"
)

// ErrNotFound is returned when an artifact id or blob hash is unknown.
var ErrNotFound = errors.New("artifacts: not found")

// ErrIntegrity is returned when a read's bytes do not match the hash on
// record for that blob.
var ErrIntegrity = errors.New("artifacts: integrity check failed")

// BlobStore persists raw content addressed by hash.
type BlobStore interface {
	// Put writes data and returns its hash. Idempotent: writing the same
	// bytes twice is a no-op the second time.
	Put(ctx context.Context, data []byte) (hash string, err error)
	// Get returns the bytes for hash, verifying the digest on read.
	Get(ctx context.Context, hash string) ([]byte, error)
	// Has reports whether hash is present without reading its content.
	Has(ctx context.Context, hash string) (bool, error)
}

// Store is the content-addressed artifact store contract.
type Store struct {
	blobs BlobStore

	mu       sync.RWMutex
	byID     map[string]*models.Artifact // artifact_id -> ref
	byRun    map[string][]string         // run_id -> artifact_ids, insertion order
	byPhase  map[string][]string         // run_id|phase -> artifact_ids, insertion order
}

// NewStore builds an artifact store backed by blobs.
func NewStore(blobs BlobStore) *Store {
	return &Store{
		blobs:   blobs,
		byID:    make(map[string]*models.Artifact),
		byRun:   make(map[string][]string),
		byPhase: make(map[string][]string),
	}
}

func phaseKey(runID, phase string) string { return runID + "|" + phase }

// Put stores bytes (deduplicated by content) and records a new ArtifactRef
// naming the producer. Each call, even for identical bytes, returns a
// distinct artifact_id.
func (s *Store) Put(ctx context.Context, runID, producingPhase, producingAgent, logicalName string, artifactType models.ArtifactType, data []byte) (*models.Artifact, error) {
	hash, err := s.blobs.Put(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("artifacts: put blob: %w", err)
	}

	ref := &models.Artifact{
		ArtifactID:     ids.NewUUID(),
		ProducingPhase: producingPhase,
		ProducingAgent: producingAgent,
		LogicalName:    logicalName,
		ArtifactType:   artifactType,
		BlobHash:       hash,
		Size:           int64(len(data)),
		CreatedAt:      time.Now().UTC(),
	}

	s.mu.Lock()
	s.byID[ref.ArtifactID] = ref
	s.byRun[runID] = append(s.byRun[runID], ref.ArtifactID)
	s.byPhase[phaseKey(runID, producingPhase)] = append(s.byPhase[phaseKey(runID, producingPhase)], ref.ArtifactID)
	s.mu.Unlock()

	return ref, nil
}

// Get returns the artifact reference and its bytes.
func (s *Store) Get(ctx context.Context, artifactID string) (*models.Artifact, []byte, error) {
	s.mu.RLock()
	ref, ok := s.byID[artifactID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: artifact %s", ErrNotFound, artifactID)
	}

	data, err := s.ResolveBlob(ctx, ref.BlobHash)
	if err != nil {
		return nil, nil, err
	}
	return ref, data, nil
}

// ResolveBlob returns the bytes for hash, or ErrNotFound/ErrIntegrity.
func (s *Store) ResolveBlob(ctx context.Context, hash string) ([]byte, error) {
	data, err := s.blobs.Get(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: blob %s", ErrNotFound, hash)
		}
		return nil, err
	}
	if ids.HashBytes(data) != hash {
		return nil, fmt.Errorf("%w: blob %s", ErrIntegrity, hash)
	}
	return data, nil
}

// ListByPhase returns artifact refs produced in (runID, phase), sorted by
// (logical_name, created_at) for deterministic consumption.
func (s *Store) ListByPhase(runID, phase string) []*models.Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot(s.byPhase[phaseKey(runID, phase)])
}

// ListByRun returns all artifact refs produced anywhere in runID.
func (s *Store) ListByRun(runID string) []*models.Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot(s.byRun[runID])
}

func (s *Store) snapshot(ids []string) []*models.Artifact {
	out := make([]*models.Artifact, 0, len(ids))
	for _, id := range ids {
		if ref, ok := s.byID[id]; ok {
			cp := *ref
			out = append(out, &cp)
		}
	}
	sortArtifacts(out)
	return out
}

func sortArtifacts(a []*models.Artifact) {
	// Small N per phase; simple insertion sort avoids importing sort for
	// a two-key stable ordering and keeps the comparison explicit.
	for i := 1; i < len(a); i++ {
		j := i
		for j > 0 && less(a[j], a[j-1]) {
			a[j], a[j-1] = a[j-1], a[j]
			j--
		}
	}
}

func less(x, y *models.Artifact) bool {
	if x.LogicalName != y.LogicalName {
		return x.LogicalName < y.LogicalName
	}
	return x.CreatedAt.Before(y.CreatedAt)
}
