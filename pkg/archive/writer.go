// Package archive implements the Run Archive Writer: on finalize, it
// persists manifest.json, decisions.jsonl, and stats.json under a
// prefix keyed by replay_run_id, at-least-once with idempotent keys.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/replaycore/engine/pkg/canonical"
	"github.com/replaycore/engine/pkg/contracts"
)

// Stats is the {emitted_event_count, decision_count, duration_ms} object
// written to stats.json.
type Stats struct {
	EmittedEventCount uint64 `json:"emitted_event_count"`
	DecisionCount     uint64 `json:"decision_count"`
	DurationMs        int64  `json:"duration_ms"`
}

// FileWriter persists the three archive objects to a local directory
// tree, one subdirectory per replay_run_id, using write-to-temp-then-
// rename for each object so a reader never observes a partial write.
type FileWriter struct {
	mu      sync.Mutex
	baseDir string
}

// NewFileWriter ensures baseDir exists and returns a FileWriter rooted
// there.
func NewFileWriter(baseDir string) (*FileWriter, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: ensure base dir: %w", err)
	}
	return &FileWriter{baseDir: baseDir}, nil
}

// Archive writes manifest.json, decisions.jsonl, and stats.json under
// baseDir/<replay_run_id>/. A failure here marks the run ERROR at the
// caller's discretion but never retroactively alters hashes already
// computed in manifest.
func (w *FileWriter) Archive(ctx context.Context, manifest contracts.RunManifest, decisions []contracts.DecisionRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	runDir := filepath.Join(w.baseDir, sanitize(manifest.Replay.ReplayRunID))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("archive: ensure run dir: %w", err)
	}

	manifestBytes, err := canonical.Bytes(manifest)
	if err != nil {
		return fmt.Errorf("archive: canonicalize manifest: %w", err)
	}
	if err := atomicWrite(filepath.Join(runDir, "manifest.json"), manifestBytes); err != nil {
		return err
	}

	if err := writeDecisions(runDir, decisions); err != nil {
		return err
	}

	stats := Stats{
		EmittedEventCount: manifest.Output.EventCount,
		DecisionCount:     manifest.Output.DecisionCount,
		DurationMs:        manifest.EndedAt - manifest.StartedAt,
	}
	statsBytes, err := canonical.Bytes(stats)
	if err != nil {
		return fmt.Errorf("archive: canonicalize stats: %w", err)
	}
	return atomicWrite(filepath.Join(runDir, "stats.json"), statsBytes)
}

func writeDecisions(runDir string, decisions []contracts.DecisionRecord) error {
	path := filepath.Join(runDir, "decisions.jsonl")
	tmpPath := path + ".tmp"

	f, err := os.Create(tmpPath) //nolint:gosec // path built from a sanitized replay_run_id
	if err != nil {
		return fmt.Errorf("archive: create decisions temp file: %w", err)
	}
	for _, d := range decisions {
		line, err := canonical.Bytes(d)
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("archive: canonicalize decision: %w", err)
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			_ = f.Close()
			return fmt.Errorf("archive: write decision line: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("archive: close decisions temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("archive: commit decisions: %w", err)
	}
	return nil
}

func atomicWrite(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("archive: write temp file %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("archive: commit %s: %w", filepath.Base(path), err)
	}
	return nil
}

func sanitize(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '/' || c == '\\' || c == '.' {
			out = append(out, '_')
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return "run"
	}
	return string(out)
}
