package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"golang.org/x/text/unicode/norm"
)

// normalizeForCanonical applies the semantic normalization pass required
// before byte rendering: strings are NFC-normalized, explicit nulls are
// preserved, absent (Go zero/omitted) struct fields are dropped by the
// ordinary json.Marshal omitempty pass that already ran on v's own tags,
// and numbers keep their original decimal text via json.Number through
// this pass. The RFC 8785 pass in Bytes that follows re-renders every
// JSON number as an IEEE-754 double; ExtInt and Decimal stay exact
// because they marshal as strings.
//
// v is first marshaled with the standard encoder (so struct tags and
// custom MarshalJSON implementations, including ExtInt/Decimal, apply),
// then re-decoded with UseNumber so every numeric literal is preserved
// verbatim instead of being parsed into float64.
func normalizeForCanonical(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}

	return walkNormalize(generic)
}

func walkNormalize(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return norm.NFC.String(val), nil
	case bool:
		return val, nil
	case json.Number:
		if err := validateNumberLiteral(val); err != nil {
			return nil, err
		}
		return val, nil
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			n, err := walkNormalize(elem)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			nk := norm.NFC.String(k)
			n, err := walkNormalize(elem)
			if err != nil {
				return nil, err
			}
			out[nk] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported canonical value type %T", v)
	}
}

// validateNumberLiteral rejects representations that cannot round-trip
// deterministically: non-finite floats encoded as bare numbers.
func validateNumberLiteral(n json.Number) error {
	if f, err := n.Float64(); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("non-finite number literal %q", n.String())
		}
	}
	return nil
}
