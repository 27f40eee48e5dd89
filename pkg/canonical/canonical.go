// Package canonical implements order-stable byte rendering and SHA-256
// fingerprinting of values: the Canonical Serializer & Determinism Hasher.
//
// Rendering pipeline: values pass through a CSNF-style normalization
// (NFC strings, extended-precision integer preservation, null preservation)
// and are then rendered to bytes by an RFC 8785 JSON Canonicalization
// Scheme (JCS) encoder so that mapping keys, array order, and number
// formatting are stable across processes and languages.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// SerializationError is raised when a value cannot be rendered to
// canonical bytes, e.g. an extended-integer literal exceeding the target
// width.
type SerializationError struct {
	Reason string
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("canonical: serialization failed: %s", e.Reason)
}

// Bytes produces the order-stable canonical byte rendering of v.
//
// v is first marshaled through encoding/json (respecting struct tags),
// then re-encoded via the gowebpki/jcs RFC 8785 transform, which sorts
// object keys lexicographically by UTF-8 code point, disables HTML
// escaping, and renders numbers in their shortest round-tripping form.
// ExtInt and Decimal values (see extint.go, decimal.go) are pre-rendered
// to tagged strings before the JCS pass so extended-precision values
// survive byte-for-byte.
func Bytes(v any) ([]byte, error) {
	normalized, err := normalizeForCanonical(v)
	if err != nil {
		return nil, &SerializationError{Reason: err.Error()}
	}

	raw, err := json.Marshal(normalized)
	if err != nil {
		return nil, &SerializationError{Reason: err.Error()}
	}

	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, &SerializationError{Reason: err.Error()}
	}
	return out, nil
}

// Hash returns the lowercase hex SHA-256 digest of Bytes(v).
func Hash(v any) (string, error) {
	b, err := Bytes(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes hashes raw bytes directly (used when the caller has already
// produced canonical bytes, e.g. concatenating per-record hashes).
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// MustHash panics on error; reserved for construction-time constants in
// tests, never for runtime paths that can observe untrusted input.
func MustHash(v any) string {
	h, err := Hash(v)
	if err != nil {
		panic(err)
	}
	return h
}

// normalizedFill is the shape fills_hash hashes: each fill reduced to
// {id, side, price, qty, ts} per §4.1.
type normalizedFill struct {
	ID    string `json:"id"`
	Side  string `json:"side"`
	Price any    `json:"price"`
	Qty   any    `json:"qty"`
	Ts    string `json:"ts"`
}

// FillsHash hashes a normalized fills list. fillPrice/price precedence:
// fill_price is used when non-nil, else price.
func FillsHash(fills []NormalizedFillInput) (string, error) {
	normalized := make([]normalizedFill, 0, len(fills))
	for _, f := range fills {
		price := f.FillPrice
		if price == nil {
			price = f.Price
		}
		normalized = append(normalized, normalizedFill{
			ID:    f.ID,
			Side:  f.Side,
			Price: price,
			Qty:   f.Qty,
			Ts:    fmt.Sprintf("%d", f.TsEvent),
		})
	}
	return Hash(normalized)
}

// NormalizedFillInput is the pre-normalization shape accepted by FillsHash.
type NormalizedFillInput struct {
	ID        string
	Side      string
	FillPrice any
	Price     any
	Qty       any
	TsEvent   uint64
}

// StateHash hashes the {cursor, execution_state, strategy_state} triple.
func StateHash(cursor string, executionState, strategyState any) (string, error) {
	return Hash(map[string]any{
		"cursor":          cursor,
		"execution_state": executionState,
		"strategy_state":  strategyState,
	})
}

// DecisionHash hashes the full ordered decision log.
func DecisionHash(decisions any) (string, error) {
	return Hash(decisions)
}
