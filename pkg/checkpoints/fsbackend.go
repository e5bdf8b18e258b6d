package checkpoints

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/kestrelflow/engine/pkg/models"
)

// FSBackend persists checkpoints as JSON files under
// <root>/<run_id>/checkpoints/<phase>_<kind>_v<n>.json, matching the
// illustrative layout checkpoints/<run_id>/. Writes use a temp-file-then-rename
// discipline; on Load, a leftover ".tmp-*" file from a half-written
// checkpoint is simply invisible (it never reached its final name), which
// is how the "half-written checkpoint is discarded on restart" invariant
// falls out of the write discipline rather than needing an explicit scan.
type FSBackend struct {
	root string
	mu   sync.Mutex
}

// NewFSBackend creates a filesystem checkpoint backend rooted at dir.
func NewFSBackend(dir string) (*FSBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoints: create root: %w", err)
	}
	return &FSBackend{root: dir}, nil
}

func (f *FSBackend) runDir(runID string) string {
	return filepath.Join(f.root, runID, "checkpoints")
}

func (f *FSBackend) fileName(cp *models.Checkpoint) string {
	return fmt.Sprintf("%s_%s_v%d.json", cp.Phase, cp.Kind, cp.Version)
}

// Save writes cp with fsync-then-rename so a crash mid-write never leaves
// a visible, partially-written checkpoint file.
func (f *FSBackend) Save(_ context.Context, cp *models.Checkpoint) error {
	dir := f.runDir(cp.RunID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("checkpoints: create run dir: %w", err)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoints: marshal: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("checkpoints: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("checkpoints: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("checkpoints: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("checkpoints: close temp file: %w", err)
	}

	dest := filepath.Join(dir, f.fileName(cp))
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("checkpoints: %s already exists (version collision)", dest)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("checkpoints: rename temp file: %w", err)
	}

	f.idIndex(cp.RunID)[cp.CheckpointID] = dest
	return nil
}

// idIndex lazily builds (and caches) a checkpoint_id -> path map for a run
// by scanning its checkpoints directory, since the on-disk filename is
// keyed by (phase, kind, version), not checkpoint_id.
var runIndexes = struct {
	sync.Mutex
	m map[string]map[string]string
}{m: make(map[string]map[string]string)}

func (f *FSBackend) idIndex(runID string) map[string]string {
	runIndexes.Lock()
	defer runIndexes.Unlock()
	idx, ok := runIndexes.m[runID]
	if !ok {
		idx = make(map[string]string)
		runIndexes.m[runID] = idx
	}
	return idx
}

// Load reads a checkpoint by id, scanning the run's checkpoint directory
// if the in-memory index has not seen it (e.g. after process restart).
func (f *FSBackend) Load(ctx context.Context, checkpointID string) (*models.Checkpoint, error) {
	all, err := f.scanAllRuns(ctx)
	if err != nil {
		return nil, err
	}
	for _, cp := range all {
		if cp.CheckpointID == checkpointID {
			return cp, nil
		}
	}
	return nil, fmt.Errorf("%w: checkpoint %s", ErrNotFound, checkpointID)
}

// ListForRun reads every checkpoint JSON file under the run's directory.
func (f *FSBackend) ListForRun(_ context.Context, runID string) ([]*models.Checkpoint, error) {
	dir := f.runDir(runID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("checkpoints: read run dir: %w", err)
	}

	var out []*models.Checkpoint
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		cp, err := f.readFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// PruneRun deletes every checkpoint file for runID and drops its cached id
// index, used by pkg/cleanup to reclaim storage past a run's retention
// window.
func (f *FSBackend) PruneRun(_ context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.RemoveAll(filepath.Join(f.root, runID)); err != nil {
		return fmt.Errorf("checkpoints: prune run %s: %w", runID, err)
	}

	runIndexes.Lock()
	delete(runIndexes.m, runID)
	runIndexes.Unlock()
	return nil
}

func (f *FSBackend) scanAllRuns(ctx context.Context) ([]*models.Checkpoint, error) {
	runDirs, err := os.ReadDir(f.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("checkpoints: read root: %w", err)
	}

	var all []*models.Checkpoint
	for _, rd := range runDirs {
		if !rd.IsDir() {
			continue
		}
		list, err := f.ListForRun(ctx, rd.Name())
		if err != nil {
			return nil, err
		}
		all = append(all, list...)
	}
	return all, nil
}

func (f *FSBackend) readFile(path string) (*models.Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoints: read %s: %w", path, err)
	}
	var cp models.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("checkpoints: unmarshal %s: %w", path, err)
	}
	return &cp, nil
}
