package canonical

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// extIntTagSuffix distinguishes an extended-precision integer literal from
// an ordinary JSON number in canonical bytes, per §4.1 rule 4: "extended
// precision integers are rendered as decimal strings with a distinguishing
// suffix and restored on parse".
const extIntTagSuffix = "n"

// maxExtIntBits bounds the widest extended-precision integer this system
// will round-trip; values exceeding it fail parsing with a
// SerializationError rather than silently truncating.
const maxExtIntBits = 128

// ExtInt is an arbitrary-width unsigned integer that survives canonical
// round-trips exactly, used for OrderingTuple columns widened beyond
// native 64-bit range (e.g. a future u128 tie-breaker column, §9).
type ExtInt struct {
	v *big.Int
}

// NewExtInt wraps a *big.Int as an ExtInt. The value must be non-negative
// and representable in maxExtIntBits bits.
func NewExtInt(v *big.Int) (ExtInt, error) {
	if v.Sign() < 0 {
		return ExtInt{}, &SerializationError{Reason: "extended integer must be non-negative"}
	}
	if v.BitLen() > maxExtIntBits {
		return ExtInt{}, &SerializationError{Reason: fmt.Sprintf("extended integer exceeds %d bits", maxExtIntBits)}
	}
	return ExtInt{v: new(big.Int).Set(v)}, nil
}

// ExtIntFromUint64 lifts a native unsigned value into the extended domain.
func ExtIntFromUint64(v uint64) ExtInt {
	return ExtInt{v: new(big.Int).SetUint64(v)}
}

// BigInt returns the underlying value.
func (e ExtInt) BigInt() *big.Int { return e.v }

// String renders the tagged decimal-string form, e.g. "340282366920938463463374607431768211455n".
func (e ExtInt) String() string {
	if e.v == nil {
		return "0" + extIntTagSuffix
	}
	return e.v.String() + extIntTagSuffix
}

// MarshalJSON renders the ExtInt as its tagged string form so it survives
// the JSON round-trip used by canonical.Bytes without float64 coercion.
func (e ExtInt) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

// UnmarshalJSON restores an ExtInt from its tagged string form.
func (e *ExtInt) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseExtInt(s)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// ParseExtInt restores an ExtInt from its tagged decimal-string form,
// failing with a SerializationError when the literal is malformed or
// exceeds maxExtIntBits — the "unrepresentable token" failure mode of §4.1.
func ParseExtInt(s string) (ExtInt, error) {
	if !strings.HasSuffix(s, extIntTagSuffix) {
		return ExtInt{}, &SerializationError{Reason: fmt.Sprintf("extended integer literal %q missing tag suffix", s)}
	}
	digits := strings.TrimSuffix(s, extIntTagSuffix)
	v, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return ExtInt{}, &SerializationError{Reason: fmt.Sprintf("extended integer literal %q is not a valid decimal", s)}
	}
	return NewExtInt(v)
}
