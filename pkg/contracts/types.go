// Package contracts defines the shared data model used across the replay
// and execution core: events, fills, manifests, and the terminal run
// artifacts produced by a Strategy Runtime run.
package contracts

import (
	"encoding/json"

	"github.com/replaycore/engine/pkg/canonical"
)

// Side is the direction of a fill.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Event is one row from a columnar event archive. TsEvent and Seq form the
// OrderingTuple (ts_event, seq); the pair must be unique within a dataset.
// Payload carries stream-specific fields (e.g. bid/ask price and size for
// top-of-book) and is passed through to strategies unmodified.
type Event struct {
	TsEvent uint64         `json:"ts_event"`
	Seq     uint64         `json:"seq"`
	Payload map[string]any `json:"payload"`
}

// Fill is a materialized order intent outcome. Fills are appended in order
// of arrival and are never reordered or mutated after append.
type Fill struct {
	ID        string `json:"id"`
	Side      Side   `json:"side"`
	FillPrice any    `json:"fill_price"`
	Qty       any    `json:"qty"`
	TsEvent   uint64 `json:"ts_event"`
}

// OrderIntent is what a strategy submits to place_order.
type OrderIntent struct {
	Symbol     string         `json:"symbol"`
	Side       Side           `json:"side"`
	Qty        any            `json:"qty"`
	Price      any            `json:"price,omitempty"`
	RiskForced bool           `json:"-"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// DatasetManifest is the validated descriptor for one columnar file.
type DatasetManifest struct {
	SchemaVersion   int      `json:"schema_version"`
	Rows            uint64   `json:"rows"`
	TsEventMin      uint64   `json:"ts_event_min"`
	TsEventMax      uint64   `json:"ts_event_max"`
	OrderingColumns []string `json:"ordering_columns"`
	StreamType      string   `json:"stream_type"`
	SourceFiles     uint64   `json:"source_files,omitempty"`
	ManifestID      string   `json:"manifest_id"`
	PartitionCount  int      `json:"partition_count,omitempty"`
}

// DecisionRecord is emitted on each accepted order intent.
type DecisionRecord struct {
	ReplayRunID string         `json:"replay_run_id"`
	Cursor      string         `json:"cursor"`
	TsEvent     uint64         `json:"ts_event"`
	Decision    map[string]any `json:"decision"`
}

// MarshalJSON renders ts_event as an extended-precision tagged string
// (canonical.ExtInt) rather than a bare JSON number. The canonical
// serializer's RFC 8785 pass otherwise re-renders numbers through
// IEEE-754 double, which silently truncates ts_event values above 2^53
// before they are hashed into decision_hash (§4.1 rule 4, §4.5).
func (d DecisionRecord) MarshalJSON() ([]byte, error) {
	type alias DecisionRecord
	return json.Marshal(struct {
		alias
		TsEvent string `json:"ts_event"`
	}{
		alias:   alias(d),
		TsEvent: canonical.ExtIntFromUint64(d.TsEvent).String(),
	})
}

// UnmarshalJSON restores ts_event from its tagged string form.
func (d *DecisionRecord) UnmarshalJSON(data []byte) error {
	type alias DecisionRecord
	var aux struct {
		alias
		TsEvent string `json:"ts_event"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	ext, err := canonical.ParseExtInt(aux.TsEvent)
	if err != nil {
		return err
	}
	*d = DecisionRecord(aux.alias)
	d.TsEvent = ext.BigInt().Uint64()
	return nil
}

// AuditEvent is emitted alongside each DecisionRecord.
type AuditEvent struct {
	Actor      string         `json:"actor"`
	Action     string         `json:"action"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id"`
	Metadata   map[string]any `json:"metadata"`
}

// RuntimeStateSnapshot is the immutable, frozen view of a run's state.
type RuntimeStateSnapshot struct {
	RunID          string         `json:"run_id"`
	Cursor         string         `json:"cursor"`
	StrategyState  any            `json:"strategy_state"`
	ExecutionState any            `json:"execution_state"`
	Metrics        map[string]any `json:"metrics"`
	EventCount     uint64         `json:"event_count"`
	FillsCount     uint64         `json:"fills_count"`
	StateHash      string         `json:"state_hash"`
	FillsHash      string         `json:"fills_hash"`
	Timestamp      int64          `json:"timestamp"`
}

// RunManifestInput mirrors the Run Manifest's "input" block.
type RunManifestInput struct {
	Dataset    string `json:"dataset"`
	ConfigHash string `json:"config_hash"`
}

// RunManifestOutput mirrors the Run Manifest's "output" block.
type RunManifestOutput struct {
	EventCount    uint64 `json:"event_count"`
	FillsCount    uint64 `json:"fills_count"`
	DecisionCount uint64 `json:"decision_count"`
	DecisionHash  string `json:"decision_hash"`
	StateHash     string `json:"state_hash"`
	FillsHash     string `json:"fills_hash"`
	LastCursor    string `json:"last_cursor"`
}

// RunManifestReplay mirrors the Run Manifest's "replay" block.
type RunManifestReplay struct {
	ReplayRunID        string `json:"replay_run_id"`
	FirstTsEvent       uint64 `json:"first_ts_event"`
	LastTsEvent        uint64 `json:"last_ts_event"`
	StopReason         string `json:"stop_reason"`
	EmittedEventCount  uint64 `json:"emitted_event_count"`
}

// RunManifest is the terminal artifact of a Strategy Runtime run.
type RunManifest struct {
	RunID       string            `json:"run_id"`
	StartedAt   int64             `json:"started_at"`
	EndedAt     int64             `json:"ended_at"`
	EndedReason string            `json:"ended_reason"`
	Input       RunManifestInput  `json:"input"`
	Output      RunManifestOutput `json:"output"`
	Replay      RunManifestReplay `json:"replay"`
}

// StopReason enumerates how a replay sequence terminated.
type StopReason string

const (
	StopEndOfStream  StopReason = "END_OF_STREAM"
	StopAtCursor     StopReason = "STOP_AT_CURSOR"
	StopError        StopReason = "ERROR"
)

// ReplayResult is the terminal return value of a replay() invocation.
type ReplayResult struct {
	RowsEmitted uint64     `json:"rows_emitted"`
	StopReason  StopReason `json:"stop_reason"`
}
