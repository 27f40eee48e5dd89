package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/replaycore/engine/pkg/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const validManifestBody = `{"schema_version":1,"rows":100,"ts_event_min":1000,"ts_event_max":100000,"ordering_columns":["ts_event","seq"],"stream_type":"top_of_book"}`

func TestLoad_Valid(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "m.json", validManifestBody)

	m, err := Load(path, Identity{Stream: "tob", Date: "2026-01-01", Symbol: "X"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, m.SchemaVersion)
	assert.Equal(t, uint64(100), m.Rows)
	assert.Len(t, m.ManifestID, 12)
}

func TestLoad_MissingField(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "m.json", `{"schema_version":1,"rows":100}`)

	_, err := Load(path, Identity{}, nil)
	require.Error(t, err)
	var ce *contracts.Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, contracts.CodeManifestInvalid, ce.ErrorCode)
}

func TestLoadMany_Consistent(t *testing.T) {
	dir := t.TempDir()
	p1 := writeManifest(t, dir, "a.json", validManifestBody)
	p2 := writeManifest(t, dir, "b.json", `{"schema_version":1,"rows":50,"ts_event_min":100001,"ts_event_max":200000,"ordering_columns":["ts_event","seq"],"stream_type":"top_of_book"}`)

	merged, err := LoadMany([]string{p1, p2}, Identity{}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), merged.Rows)
	assert.Equal(t, uint64(1000), merged.TsEventMin)
	assert.Equal(t, uint64(200000), merged.TsEventMax)
	assert.Equal(t, 2, merged.PartitionCount)
}

func TestLoadMany_InconsistentStreamType(t *testing.T) {
	dir := t.TempDir()
	p1 := writeManifest(t, dir, "a.json", validManifestBody)
	p2 := writeManifest(t, dir, "b.json", `{"schema_version":1,"rows":50,"ts_event_min":1,"ts_event_max":2,"ordering_columns":["ts_event","seq"],"stream_type":"trades"}`)

	_, err := LoadMany([]string{p1, p2}, Identity{}, nil)
	require.Error(t, err)
	var ce *contracts.Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, contracts.CodeMultiManifestInconsistent, ce.ErrorCode)
}

func TestCache_LRUEviction(t *testing.T) {
	c := NewCache(CacheConfig{Capacity: 2})
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	_, ok := c.Get("a")
	assert.False(t, ok, "a should have been evicted")
	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Evictions)
}

func TestCache_ExpiredTreatedAsMiss(t *testing.T) {
	c := NewCache(CacheConfig{Capacity: 10, TTL: -1})
	c.Set("a", 1)
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestCache_InvalidationOnManifestIDMismatch(t *testing.T) {
	dir := t.TempDir()
	p1 := writeManifest(t, dir, "m.json", validManifestBody)
	cache := NewCache(CacheConfig{Capacity: 10, TTL: time.Hour})

	_, err := Load(p1, Identity{Stream: "s", Date: "d", Symbol: "x"}, cache)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(p1, []byte(`{"schema_version":1,"rows":999,"ts_event_min":1,"ts_event_max":2,"ordering_columns":["ts_event","seq"],"stream_type":"top_of_book"}`), 0o644))

	_, err = Load(p1, Identity{Stream: "s", Date: "d", Symbol: "x"}, cache)
	require.NoError(t, err)
	// invalidation clears the cache before repopulating with the fresh
	// manifest's path-hash and identity keys.
	assert.Equal(t, 2, cache.Stats().Size)
}
