//go:build property
// +build property

package canonical_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/replaycore/engine/pkg/canonical"
)

// TestBytes_DeterministicAcrossCalls checks property 3's first clause:
// for any two canonical serializations of the same value, byte-equal
// output, regardless of how many times the value is re-rendered.
func TestBytes_DeterministicAcrossCalls(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Bytes(v) is stable across repeated calls", prop.ForAll(
		func(keys []string, values []string) bool {
			obj := make(map[string]any)
			for i := 0; i < len(keys) && i < len(values); i++ {
				if keys[i] != "" {
					obj[keys[i]] = values[i]
				}
			}
			if len(obj) == 0 {
				return true
			}

			a, errA := canonical.Bytes(obj)
			b, errB := canonical.Bytes(obj)
			if errA != nil || errB != nil {
				return errA != nil && errB != nil
			}
			return string(a) == string(b)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("Bytes output is independent of insertion order", prop.ForAll(
		func(keys []string, values []string) bool {
			pairs := make(map[string]string)
			for i := 0; i < len(keys) && i < len(values); i++ {
				if keys[i] != "" {
					pairs[keys[i]] = values[i]
				}
			}
			if len(pairs) == 0 {
				return true
			}

			ordered := make([]string, 0, len(pairs))
			for k := range pairs {
				ordered = append(ordered, k)
			}
			forward := make(map[string]any, len(pairs))
			for _, k := range ordered {
				forward[k] = pairs[k]
			}
			backward := make(map[string]any, len(pairs))
			for i := len(ordered) - 1; i >= 0; i-- {
				backward[ordered[i]] = pairs[ordered[i]]
			}

			a, errA := canonical.Bytes(forward)
			b, errB := canonical.Bytes(backward)
			if errA != nil || errB != nil {
				return errA != nil && errB != nil
			}
			return string(a) == string(b)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
