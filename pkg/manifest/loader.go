// Package manifest implements the Metadata Loader + Bounded Cache: dataset
// manifest validation, cross-manifest consistency checks, and the TTL+LRU
// cache tiers that accelerate repeated manifest/data-page lookups.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/replaycore/engine/pkg/contracts"
)

// requiredFields are validated present on every loaded manifest.
var requiredFields = []string{"schema_version", "rows", "ts_event_min", "ts_event_max"}

// acceptedSchemaVersions is the enumerated set of supported
// schema_version values (§3).
var acceptedSchemaVersions = map[int]bool{1: true}

// Identity addresses a manifest within the cache's full identity key
// space: meta:{stream}:{date}:{symbol}:{schema_version}:{manifest_id}.
type Identity struct {
	Stream string
	Date   string
	Symbol string
}

// Loader validates and caches dataset manifests.
type Loader struct {
	cache *Cache
}

// NewLoader constructs a Loader backed by cache.
func NewLoader(cache *Cache) *Loader {
	return &Loader{cache: cache}
}

// Load reads path, validates it, computes manifest_id, and stores the
// result under both the quick path-hash key and the full identity key.
func Load(path string, identity Identity, cache *Cache) (contracts.DatasetManifest, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // operator-controlled dataset descriptor path
	if err != nil {
		return contracts.DatasetManifest{}, manifestErr(contracts.CodeManifestLoadError, "read manifest file", err)
	}

	m, err := parseAndValidate(raw)
	if err != nil {
		return contracts.DatasetManifest{}, err
	}

	pathKey := "pathhash:" + hashBytes([]byte(path))
	if cache != nil {
		if prior, ok := cache.Get(pathKey); ok {
			if priorManifest, ok := prior.(contracts.DatasetManifest); ok && priorManifest.ManifestID != m.ManifestID {
				// §4.4 invalidation: underlying bytes changed, drop everything cached.
				cache.Clear()
			}
		}
		cache.Set(pathKey, m)
		identityKey := fmt.Sprintf("meta:%s:%s:%s:%d:%s", identity.Stream, identity.Date, identity.Symbol, m.SchemaVersion, m.ManifestID)
		cache.Set(identityKey, m)
	}

	return m, nil
}

func parseAndValidate(raw []byte) (contracts.DatasetManifest, error) {
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return contracts.DatasetManifest{}, manifestErr(contracts.CodeManifestParseError, "invalid manifest JSON", err)
	}

	for _, f := range requiredFields {
		if _, ok := generic[f]; !ok {
			return contracts.DatasetManifest{}, manifestErr(contracts.CodeManifestInvalid, fmt.Sprintf("missing required field %q", f), nil)
		}
	}

	var m contracts.DatasetManifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return contracts.DatasetManifest{}, manifestErr(contracts.CodeManifestParseError, "manifest field coercion failed", err)
	}

	if !acceptedSchemaVersions[m.SchemaVersion] {
		return contracts.DatasetManifest{}, manifestErr(contracts.CodeSchemaUnsupported, fmt.Sprintf("schema_version %d not in accepted set", m.SchemaVersion), nil)
	}

	if len(m.OrderingColumns) == 0 {
		return contracts.DatasetManifest{}, manifestErr(contracts.CodeOrderingColumnsInvalid, "ordering_columns must be non-empty", nil)
	}

	m.ManifestID = hashBytes(raw)[:12]
	return m, nil
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func manifestErr(code contracts.Code, msg string, cause error) *contracts.Error {
	if cause != nil {
		return contracts.Wrap(code, msg, cause, nil)
	}
	return contracts.New(code, msg, nil)
}

// LoadMany loads each path, enforces cross-manifest consistency on
// schema_version/stream_type/ordering_columns, and returns a merged view.
// Consistency is checked before any reader is opened (property 6).
func LoadMany(paths []string, identity Identity, cache *Cache) (contracts.DatasetManifest, error) {
	if len(paths) == 0 {
		return contracts.DatasetManifest{}, manifestErr(contracts.CodeManifestInvalid, "no manifest paths given", nil)
	}

	manifests := make([]contracts.DatasetManifest, 0, len(paths))
	for _, p := range paths {
		m, err := Load(p, identity, cache)
		if err != nil {
			return contracts.DatasetManifest{}, err
		}
		manifests = append(manifests, m)
	}

	first := manifests[0]
	for _, m := range manifests[1:] {
		if m.SchemaVersion != first.SchemaVersion || m.StreamType != first.StreamType || !equalOrderingColumns(m.OrderingColumns, first.OrderingColumns) {
			return contracts.DatasetManifest{}, manifestErr(contracts.CodeMultiManifestInconsistent, "manifests disagree on schema_version/stream_type/ordering_columns", nil)
		}
	}

	merged := contracts.DatasetManifest{
		SchemaVersion:   first.SchemaVersion,
		StreamType:      first.StreamType,
		OrderingColumns: first.OrderingColumns,
		PartitionCount:  len(manifests),
	}
	for i, m := range manifests {
		merged.Rows += m.Rows
		if i == 0 || m.TsEventMin < merged.TsEventMin {
			merged.TsEventMin = m.TsEventMin
		}
		if i == 0 || m.TsEventMax > merged.TsEventMax {
			merged.TsEventMax = m.TsEventMax
		}
	}

	return merged, nil
}

func equalOrderingColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
