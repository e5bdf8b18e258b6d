// Package checkpoints implements the versioned, content-addressed
// checkpoint store: per-phase PRE/POST/POST_FAILED
// snapshots plus PRE_ROLLBACK checkpoints created by Rollback.
package checkpoints

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kestrelflow/engine/pkg/ids"
	"github.com/kestrelflow/engine/pkg/models"
)

// ErrNotFound is returned when a checkpoint id is unknown.
var ErrNotFound = errors.New("checkpoints: not found")

// ErrIntegrity is returned when a loaded checkpoint's artifact hashes do
// not resolve in the artifact store.
var ErrIntegrity = errors.New("checkpoints: integrity check failed")

// BlobResolver checks that a blob hash is present, used to validate a
// checkpoint's artifact invariant without coupling this package to the
// concrete artifacts.Store type.
type BlobResolver interface {
	ResolveBlob(ctx context.Context, hash string) ([]byte, error)
}

// Store is the in-process, mutex-guarded checkpoint store. Persistence
// backends (file-based, Postgres) implement Backend; Store provides the
// versioning, rollback and compare logic common to both on top of it.
type Store struct {
	backend Backend
	blobs   BlobResolver

	mu       sync.Mutex // single-writer-per-run is enforced by callers; this guards the version counters
	versions map[string]int // "run|phase|kind" -> highest version issued
}

// Backend is the persistence primitive a concrete checkpoint store must
// provide: durable writes with the write-then-fsync-then-rename discipline
// integrity requires, and reads.
type Backend interface {
	Save(ctx context.Context, cp *models.Checkpoint) error
	Load(ctx context.Context, checkpointID string) (*models.Checkpoint, error)
	ListForRun(ctx context.Context, runID string) ([]*models.Checkpoint, error)
}

// NewStore builds a checkpoint store over backend, validating artifact
// hashes against blobs on Load.
func NewStore(backend Backend, blobs BlobResolver) *Store {
	return &Store{
		backend:  backend,
		blobs:    blobs,
		versions: make(map[string]int),
	}
}

func versionKey(runID, phase string, kind models.CheckpointKind) string {
	return runID + "|" + phase + "|" + string(kind)
}

// HydrateVersions primes the in-memory version counters for runID from
// whatever the backend already has on disk/DB. Callers must invoke this
// before the first Create for a run that may already have checkpoints —
// the run engine does so as part of resume().
func (s *Store) HydrateVersions(ctx context.Context, runID string) error {
	existing, err := s.backend.ListForRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("checkpoints: hydrate versions: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cp := range existing {
		key := versionKey(cp.RunID, cp.Phase, cp.Kind)
		if cp.Version > s.versions[key] {
			s.versions[key] = cp.Version
		}
	}
	return nil
}

// Create persists a new checkpoint, assigning the next version for
// (run, phase, kind).
func (s *Store) Create(ctx context.Context, runID, phase string, kind models.CheckpointKind, orch models.OrchestratorState, agentStates map[string]models.AgentStateEntry, artifactsMap map[string]models.ArtifactRefEntry, governance []models.GovernanceResultSummary, parentID string) (*models.Checkpoint, error) {
	s.mu.Lock()
	key := versionKey(runID, phase, kind)
	s.versions[key]++
	version := s.versions[key]
	s.mu.Unlock()

	cp := &models.Checkpoint{
		CheckpointID:         ids.NewUUID(),
		RunID:                runID,
		Phase:                phase,
		Kind:                 kind,
		Version:              version,
		CreatedAt:            time.Now().UTC(),
		ParentCheckpointID:   parentID,
		Artifacts:            cloneArtifactMap(artifactsMap),
		AgentStates:          cloneAgentMap(agentStates),
		OrchestratorSnapshot: orch,
		GovernanceResults:    append([]models.GovernanceResultSummary(nil), governance...),
	}

	if err := s.backend.Save(ctx, cp); err != nil {
		return nil, fmt.Errorf("checkpoints: save: %w", err)
	}
	return cp, nil
}

// Load retrieves a checkpoint by id, verifying every referenced artifact
// hash resolves in the blob store.
func (s *Store) Load(ctx context.Context, checkpointID string) (*models.Checkpoint, error) {
	cp, err := s.backend.Load(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	if err := s.verifyArtifacts(ctx, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

func (s *Store) verifyArtifacts(ctx context.Context, cp *models.Checkpoint) error {
	if s.blobs == nil {
		return nil
	}
	for name, ref := range cp.Artifacts {
		if _, err := s.blobs.ResolveBlob(ctx, ref.BlobHash); err != nil {
			return fmt.Errorf("%w: checkpoint %s artifact %q: %v", ErrIntegrity, cp.CheckpointID, name, err)
		}
	}
	return nil
}

// ListForRun returns every checkpoint for runID ordered by
// (phase_order, version, kind). phase_order is the
// position of the phase's first occurrence across the returned set,
// which matches declaration order because checkpoints are only ever
// created in phase-graph order.
func (s *Store) ListForRun(ctx context.Context, runID string) ([]*models.Checkpoint, error) {
	list, err := s.backend.ListForRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	phaseOrder := make(map[string]int)
	order := 0
	for _, cp := range list {
		if _, seen := phaseOrder[cp.Phase]; !seen {
			phaseOrder[cp.Phase] = order
			order++
		}
	}

	sort.SliceStable(list, func(i, j int) bool {
		pi, pj := phaseOrder[list[i].Phase], phaseOrder[list[j].Phase]
		if pi != pj {
			return pi < pj
		}
		if list[i].Version != list[j].Version {
			return list[i].Version < list[j].Version
		}
		return list[i].Kind < list[j].Kind
	})
	return list, nil
}

// Rollback loads the target checkpoint, derives the rolled-back
// orchestrator state, and creates a new PRE_ROLLBACK checkpoint whose
// parent is the target. It does not delete any blobs —
// downstream artifact manifests are archived by the caller (the run
// engine), not this store.
func (s *Store) Rollback(ctx context.Context, runID, targetCheckpointID string) (*models.Checkpoint, error) {
	target, err := s.Load(ctx, targetCheckpointID)
	if err != nil {
		return nil, fmt.Errorf("checkpoints: rollback: load target: %w", err)
	}
	if target.RunID != runID {
		return nil, fmt.Errorf("checkpoints: rollback: checkpoint %s belongs to run %s, not %s", targetCheckpointID, target.RunID, runID)
	}

	derived := target.OrchestratorSnapshot
	derived.CurrentPhase = target.Phase
	derived.CompletedPhases = completedUpTo(derived.CompletedPhases, target.Phase)

	return s.Create(ctx, runID, target.Phase, models.CheckpointPreRollback, derived, target.AgentStates, target.Artifacts, target.GovernanceResults, targetCheckpointID)
}

// completedUpTo trims completed to entries strictly before phase (the
// target's own phase is not yet "completed" again after a rollback to it —
// it is about to re-run).
func completedUpTo(completed []string, phase string) []string {
	out := make([]string, 0, len(completed))
	for _, p := range completed {
		if p == phase {
			break
		}
		out = append(out, p)
	}
	return out
}

// Compare reports what differs between two checkpoints' artifacts and
// agent states, using go-cmp to diff the maps.
func (s *Store) Compare(ctx context.Context, aID, bID string) (*models.CheckpointDiff, error) {
	a, err := s.Load(ctx, aID)
	if err != nil {
		return nil, fmt.Errorf("checkpoints: compare: load a: %w", err)
	}
	b, err := s.Load(ctx, bID)
	if err != nil {
		return nil, fmt.Errorf("checkpoints: compare: load b: %w", err)
	}

	diff := &models.CheckpointDiff{}
	for name, refB := range b.Artifacts {
		refA, ok := a.Artifacts[name]
		if !ok {
			diff.AddedArtifacts = append(diff.AddedArtifacts, name)
			continue
		}
		if !cmp.Equal(refA, refB) {
			diff.ChangedArtifacts = append(diff.ChangedArtifacts, name)
		}
	}
	for name := range a.Artifacts {
		if _, ok := b.Artifacts[name]; !ok {
			diff.RemovedArtifacts = append(diff.RemovedArtifacts, name)
		}
	}
	for agentID, stateB := range b.AgentStates {
		stateA, ok := a.AgentStates[agentID]
		if !ok || !cmp.Equal(stateA, stateB) {
			diff.ChangedAgents = append(diff.ChangedAgents, agentID)
		}
	}

	sort.Strings(diff.AddedArtifacts)
	sort.Strings(diff.RemovedArtifacts)
	sort.Strings(diff.ChangedArtifacts)
	sort.Strings(diff.ChangedAgents)
	return diff, nil
}

func cloneArtifactMap(m map[string]models.ArtifactRefEntry) map[string]models.ArtifactRefEntry {
	out := make(map[string]models.ArtifactRefEntry, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneAgentMap(m map[string]models.AgentStateEntry) map[string]models.AgentStateEntry {
	out := make(map[string]models.AgentStateEntry, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
