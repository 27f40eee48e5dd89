package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/replaycore/engine/pkg/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileWriter_ArchiveWritesThreeObjects(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFileWriter(dir)
	require.NoError(t, err)

	manifest := contracts.RunManifest{
		RunID:     "run_1",
		StartedAt: 1000,
		EndedAt:   1500,
		Output: contracts.RunManifestOutput{
			EventCount:    10,
			DecisionCount: 2,
		},
		Replay: contracts.RunManifestReplay{ReplayRunID: "replay_abc"},
	}
	decisions := []contracts.DecisionRecord{
		{ReplayRunID: "replay_abc", TsEvent: 1000, Decision: map[string]any{"symbol": "BTC-USD"}},
		{ReplayRunID: "replay_abc", TsEvent: 2000, Decision: map[string]any{"symbol": "ETH-USD"}},
	}

	require.NoError(t, w.Archive(context.Background(), manifest, decisions))

	runDir := filepath.Join(dir, "replay_abc")
	assert.FileExists(t, filepath.Join(runDir, "manifest.json"))
	assert.FileExists(t, filepath.Join(runDir, "decisions.jsonl"))
	assert.FileExists(t, filepath.Join(runDir, "stats.json"))

	f, err := os.Open(filepath.Join(runDir, "decisions.jsonl"))
	require.NoError(t, err)
	defer f.Close()
	scanner := bufio.NewScanner(f)
	lines := 0
	for scanner.Scan() {
		lines++
	}
	assert.Equal(t, 2, lines)

	statsBytes, err := os.ReadFile(filepath.Join(runDir, "stats.json"))
	require.NoError(t, err)
	var stats Stats
	require.NoError(t, json.Unmarshal(statsBytes, &stats))
	assert.Equal(t, uint64(10), stats.EmittedEventCount)
	assert.Equal(t, int64(500), stats.DurationMs)
}

func TestFileWriter_ArchiveIsIdempotentUnderRetry(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFileWriter(dir)
	require.NoError(t, err)

	manifest := contracts.RunManifest{Replay: contracts.RunManifestReplay{ReplayRunID: "replay_retry"}}

	require.NoError(t, w.Archive(context.Background(), manifest, nil))
	require.NoError(t, w.Archive(context.Background(), manifest, nil))

	assert.FileExists(t, filepath.Join(dir, "replay_retry", "manifest.json"))
}
