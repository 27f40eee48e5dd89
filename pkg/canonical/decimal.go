package canonical

import (
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"
)

// decimalPattern matches a canonical decimal literal: an optional sign,
// digits, and an optional fractional part. Mirrors the decimal profile
// grounding this type: a string-rendered rational, never a float64.
var decimalPattern = regexp.MustCompile(`^[+-]?[0-9]+(\.[0-9]+)?$`)

// Decimal is an extended-precision decimal value (e.g. a price tick or
// quantity that must not suffer float64 rounding) rendered in canonical
// bytes as its exact decimal-string form.
type Decimal struct {
	text string
}

// ParseDecimal validates and wraps a decimal literal.
func ParseDecimal(s string) (Decimal, error) {
	if !decimalPattern.MatchString(s) {
		return Decimal{}, &SerializationError{Reason: fmt.Sprintf("decimal literal %q does not match [+-]?digits(.digits)?", s)}
	}
	rat := new(big.Rat)
	if _, ok := rat.SetString(s); !ok {
		return Decimal{}, &SerializationError{Reason: fmt.Sprintf("decimal literal %q is not a valid rational", s)}
	}
	return Decimal{text: normalizeNegativeZeroDecimal(s)}, nil
}

// DecimalFromRat renders a rational to a fixed number of fractional digits.
func DecimalFromRat(r *big.Rat, scale int) Decimal {
	text := r.FloatString(scale)
	return Decimal{text: normalizeNegativeZeroDecimal(text)}
}

// String returns the canonical decimal-string rendering.
func (d Decimal) String() string { return d.text }

// Rat converts the decimal to a *big.Rat for arithmetic.
func (d Decimal) Rat() (*big.Rat, error) {
	rat := new(big.Rat)
	if _, ok := rat.SetString(d.text); !ok {
		return nil, &SerializationError{Reason: fmt.Sprintf("decimal %q is not a valid rational", d.text)}
	}
	return rat, nil
}

// MarshalJSON renders the decimal as its exact string form so it survives
// the canonical byte-rendering pipeline without float64 coercion.
func (d Decimal) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.text)
}

// UnmarshalJSON restores a Decimal from its string form.
func (d *Decimal) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDecimal(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func normalizeNegativeZeroDecimal(s string) string {
	rat := new(big.Rat)
	if _, ok := rat.SetString(s); ok && rat.Sign() == 0 {
		return "0"
	}
	return s
}
