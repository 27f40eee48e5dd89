package ordering

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
)

// cursorPayload is the self-describing encoded form of a Tuple: explicit
// field names so decoding can validate that every OrderingTuple column is
// present before parsing as unsigned integers (§4.2).
type cursorPayload struct {
	TsEvent uint64 `json:"ts_event"`
	Seq     uint64 `json:"seq"`
}

// EncodeCursor renders t as an opaque, URL-safe, order-preserving token.
func EncodeCursor(t Tuple) string {
	payload := cursorPayload{TsEvent: t.TsEvent, Seq: t.Seq}
	raw, err := json.Marshal(payload)
	if err != nil {
		// payload is a fixed, always-marshalable struct of uint64s.
		panic(fmt.Sprintf("ordering: cursor payload marshal failed: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor restores a Tuple from a token produced by EncodeCursor.
// It fails if any OrderingTuple column is missing.
func DecodeCursor(token string) (Tuple, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Tuple{}, fmt.Errorf("ordering: invalid cursor encoding: %w", err)
	}

	var fields map[string]json.Number
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Tuple{}, fmt.Errorf("ordering: invalid cursor payload: %w", err)
	}

	tsRaw, ok := fields["ts_event"]
	if !ok {
		return Tuple{}, fmt.Errorf("ordering: cursor missing ts_event column")
	}
	seqRaw, ok := fields["seq"]
	if !ok {
		return Tuple{}, fmt.Errorf("ordering: cursor missing seq column")
	}

	ts, err := parseUint64(tsRaw)
	if err != nil {
		return Tuple{}, fmt.Errorf("ordering: cursor ts_event: %w", err)
	}
	seq, err := parseUint64(seqRaw)
	if err != nil {
		return Tuple{}, fmt.Errorf("ordering: cursor seq: %w", err)
	}

	return Tuple{TsEvent: ts, Seq: seq}, nil
}

// parseUint64 accepts the full uint64 domain, including values in
// [2^63, 2^64) that json.Number.Int64 rejects (§4.2: "explicit
// unsigned-64 cast to prevent narrowing").
func parseUint64(n json.Number) (uint64, error) {
	v, err := strconv.ParseUint(n.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("value %q is not a non-negative integer", n.String())
	}
	return v, nil
}

// ResumePredicate is the canonical lexicographic strict-greater predicate
// constructed from a cursor. Only this package is permitted to synthesize
// cursor filters (§4.2): the columnar reader receives this value and
// evaluates it, never constructing one itself.
type ResumePredicate struct {
	Cursor Tuple
}

// NewResumePredicate builds the exclusive resume predicate for cursor c.
func NewResumePredicate(c Tuple) ResumePredicate {
	return ResumePredicate{Cursor: c}
}

// Matches reports whether t is strictly greater than the predicate's
// cursor in OrderingTuple order: (ts_event > V1) OR (ts_event == V1 AND seq > V2).
func (p ResumePredicate) Matches(t Tuple) bool {
	return Compare(t, p.Cursor) > 0
}
