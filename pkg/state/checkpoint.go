package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/replaycore/engine/pkg/canonical"
	"github.com/replaycore/engine/pkg/contracts"
)

// Checkpoint is the persisted payload written by Manager.Save.
type Checkpoint struct {
	State        any    `json:"state"`
	EventIndex   uint64 `json:"event_index"`
	CheckpointID string `json:"checkpoint_id"`
	StateHash    string `json:"state_hash"`
	CreatedAt    int64  `json:"created_at"`
	Version      uint64 `json:"version"`
}

// Backend is the persistence abstraction keyed by (run_id, checkpoint_id)
// that a Manager drives. Implementations must guarantee that readers
// never observe a partially-written checkpoint (§4.8 atomicity
// invariant).
type Backend interface {
	Write(ctx context.Context, runID, checkpointID string, data []byte) error
	Read(ctx context.Context, runID, checkpointID string) ([]byte, error)
	List(ctx context.Context, runID string) ([]string, error)
	Delete(ctx context.Context, runID, checkpointID string) error
	Exists(ctx context.Context, runID, checkpointID string) (bool, error)
}

// Manager implements save/load/list/delete/get_latest/cleanup over a
// pluggable Backend.
type Manager struct {
	backend Backend
	runID   string
}

// NewManager constructs a checkpoint Manager scoped to one run.
func NewManager(backend Backend, runID string) *Manager {
	return &Manager{backend: backend, runID: runID}
}

// Save persists state under checkpointID, computing and embedding its
// canonical hash.
func (m *Manager) Save(ctx context.Context, state any, checkpointID string, eventIndex, version uint64) error {
	hash, err := canonical.Hash(state)
	if err != nil {
		return err
	}

	cp := Checkpoint{
		State:        state,
		EventIndex:   eventIndex,
		CheckpointID: checkpointID,
		StateHash:    hash,
		CreatedAt:    time.Now().UnixMilli(),
		Version:      version,
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return contracts.Wrap(contracts.CodeSerializationError, "encode checkpoint", err, nil)
	}

	if err := m.backend.Write(ctx, m.runID, checkpointID, data); err != nil {
		return contracts.Wrap(contracts.CodeArchiveError, "write checkpoint", err, nil)
	}
	return nil
}

// LoadOptions controls Load's integrity checking.
type LoadOptions struct {
	VerifyHash bool
}

// Load reads and optionally verifies a checkpoint's integrity.
func (m *Manager) Load(ctx context.Context, checkpointID string, opts LoadOptions) (Checkpoint, error) {
	data, err := m.backend.Read(ctx, m.runID, checkpointID)
	if err != nil {
		return Checkpoint{}, contracts.Wrap(contracts.CodeRestoreError, "read checkpoint", err, nil)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, contracts.Wrap(contracts.CodeRestoreError, "checkpoint payload corrupted", err, nil)
	}

	if opts.VerifyHash {
		recomputed, err := canonical.Hash(cp.State)
		if err != nil {
			return Checkpoint{}, err
		}
		if recomputed != cp.StateHash {
			return Checkpoint{}, contracts.New(contracts.CodeRestoreError, "checkpoint hash mismatch", map[string]any{
				"expected": cp.StateHash,
				"actual":   recomputed,
			})
		}
	}

	return cp, nil
}

// List returns all checkpoint IDs for this run.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.backend.List(ctx, m.runID)
}

// Delete removes one checkpoint.
func (m *Manager) Delete(ctx context.Context, checkpointID string) error {
	return m.backend.Delete(ctx, m.runID, checkpointID)
}

// Exists reports whether checkpointID exists.
func (m *Manager) Exists(ctx context.Context, checkpointID string) (bool, error) {
	return m.backend.Exists(ctx, m.runID, checkpointID)
}

// GetLatest selects the checkpoint with the max event_index, verifying
// its hash.
func (m *Manager) GetLatest(ctx context.Context) (Checkpoint, error) {
	ids, err := m.List(ctx)
	if err != nil {
		return Checkpoint{}, err
	}
	if len(ids) == 0 {
		return Checkpoint{}, contracts.New(contracts.CodeRestoreError, "no checkpoints available", nil)
	}

	var latest Checkpoint
	var latestLoaded bool
	for _, id := range ids {
		cp, err := m.Load(ctx, id, LoadOptions{VerifyHash: false})
		if err != nil {
			continue
		}
		if !latestLoaded || cp.EventIndex > latest.EventIndex {
			latest = cp
			latestLoaded = true
		}
	}
	if !latestLoaded {
		return Checkpoint{}, contracts.New(contracts.CodeRestoreError, "no loadable checkpoints", nil)
	}

	return m.Load(ctx, latest.CheckpointID, LoadOptions{VerifyHash: true})
}

// Cleanup retains only the keepN checkpoints with the highest
// event_index, deleting the rest.
func (m *Manager) Cleanup(ctx context.Context, keepN int) error {
	ids, err := m.List(ctx)
	if err != nil {
		return err
	}

	type indexed struct {
		id    string
		index uint64
	}
	entries := make([]indexed, 0, len(ids))
	for _, id := range ids {
		cp, err := m.Load(ctx, id, LoadOptions{})
		if err != nil {
			continue
		}
		entries = append(entries, indexed{id: id, index: cp.EventIndex})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].index > entries[j].index })

	if len(entries) <= keepN {
		return nil
	}
	for _, e := range entries[keepN:] {
		if err := m.Delete(ctx, e.id); err != nil {
			return err
		}
	}
	return nil
}

// FileBackend persists checkpoints to a local directory using
// write-to-temp-then-rename, the same atomicity pattern pkg/archive
// uses for its files.
type FileBackend struct {
	baseDir string
	mu      sync.Mutex
}

// NewFileBackend ensures baseDir exists and returns a FileBackend rooted
// there.
func NewFileBackend(baseDir string) (*FileBackend, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("state: ensure checkpoint dir: %w", err)
	}
	return &FileBackend{baseDir: baseDir}, nil
}

func (b *FileBackend) runDir(runID string) string {
	return filepath.Join(b.baseDir, sanitizeSegment(runID))
}

func (b *FileBackend) path(runID, checkpointID string) string {
	return filepath.Join(b.runDir(runID), sanitizeSegment(checkpointID)+".json")
}

func sanitizeSegment(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "/", "_"), "..", "_")
}

func (b *FileBackend) Write(ctx context.Context, runID, checkpointID string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.MkdirAll(b.runDir(runID), 0o755); err != nil {
		return err
	}

	path := b.path(runID, checkpointID)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("state: write checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("state: commit checkpoint: %w", err)
	}
	return nil
}

func (b *FileBackend) Read(ctx context.Context, runID, checkpointID string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return os.ReadFile(b.path(runID, checkpointID)) //nolint:gosec // path built from sanitized run/checkpoint IDs
}

func (b *FileBackend) List(ctx context.Context, runID string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := os.ReadDir(b.runDir(runID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	return ids, nil
}

func (b *FileBackend) Delete(ctx context.Context, runID, checkpointID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	err := os.Remove(b.path(runID, checkpointID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (b *FileBackend) Exists(ctx context.Context, runID, checkpointID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := os.Stat(b.path(runID, checkpointID))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
