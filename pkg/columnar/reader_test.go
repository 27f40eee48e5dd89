package columnar

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/replaycore/engine/pkg/ordering"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSONL(t *testing.T, dir, name string, lines []string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestOpen_ExclusiveResumeExcludesCursorRow(t *testing.T) {
	dir := t.TempDir()
	path := writeJSONL(t, dir, "a.jsonl", []string{
		`{"ts_event":1000,"seq":1,"payload":{}}`,
		`{"ts_event":2000,"seq":2,"payload":{}}`,
		`{"ts_event":3000,"seq":3,"payload":{}}`,
	})

	h, err := Open(context.Background(), []string{path}, RemoteConfig{}, nil)
	require.NoError(t, err)
	defer h.Close()

	cursor := ordering.Tuple{TsEvent: 2000, Seq: 2}
	batch, err := h.Batch(context.Background(), 10, &cursor, TimeRange{})
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, uint64(3000), batch[0].TsEvent)
}

func TestOpen_EmptyBatchTerminates(t *testing.T) {
	dir := t.TempDir()
	path := writeJSONL(t, dir, "a.jsonl", []string{`{"ts_event":1000,"seq":1,"payload":{}}`})

	h, err := Open(context.Background(), []string{path}, RemoteConfig{}, nil)
	require.NoError(t, err)
	defer h.Close()

	cursor := ordering.Tuple{TsEvent: 1000, Seq: 1}
	batch, err := h.Batch(context.Background(), 10, &cursor, TimeRange{})
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestOpen_MultiFileConcatenation(t *testing.T) {
	dir := t.TempDir()
	p1 := writeJSONL(t, dir, "a.jsonl", []string{`{"ts_event":1000,"seq":1,"payload":{}}`})
	p2 := writeJSONL(t, dir, "b.jsonl", []string{`{"ts_event":2000,"seq":1,"payload":{}}`})

	h, err := Open(context.Background(), []string{p1, p2}, RemoteConfig{}, nil)
	require.NoError(t, err)
	defer h.Close()

	count, err := h.RowCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)
}

func TestOpen_CorruptLineClassified(t *testing.T) {
	dir := t.TempDir()
	path := writeJSONL(t, dir, "bad.jsonl", []string{"not json"})

	_, err := Open(context.Background(), []string{path}, RemoteConfig{}, nil)
	require.Error(t, err)
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ClassCorruptionError, ce.Class)
	assert.True(t, ce.Quarantinable())
}

func TestOpen_RemoteWithoutCredentialsFails(t *testing.T) {
	_, err := Open(context.Background(), []string{"s3://bucket/key.jsonl"}, RemoteConfig{}, nil)
	require.Error(t, err)
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ClassCredentialError, ce.Class)
}
