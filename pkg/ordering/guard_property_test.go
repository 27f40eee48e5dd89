//go:build property
// +build property

package ordering_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/replaycore/engine/pkg/ordering"
)

// TestGuard_DuplicateOrBackwardsInsertionRaisesExactlyOneViolation checks
// property 4: inserting a duplicate or backwards tuple into an otherwise
// strictly increasing stream raises exactly one violation, of the
// correct subtype, at the point of insertion.
func TestGuard_DuplicateOrBackwardsInsertionRaisesExactlyOneViolation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("duplicate insertion raises OrderingViolationDuplicate", prop.ForAll(
		func(n, insertAt int) bool {
			stream := increasingStream(n)
			if len(stream) == 0 {
				return true
			}
			insertAt = insertAt % len(stream)
			if insertAt < 0 {
				insertAt = -insertAt
			}
			dup := stream[insertAt]
			withDup := append(append(append([]ordering.Tuple{}, stream[:insertAt+1]...), dup), stream[insertAt+1:]...)

			guard := ordering.NewGuard(ordering.ModeStrict, nil)
			var kind ordering.ViolationKind
			var violations int
			for _, tup := range withDup {
				if err := guard.Check(tup); err != nil {
					violations++
					kind = err.(*ordering.ViolationError).Kind
				}
			}
			return violations == 1 && kind == ordering.ViolationDuplicate
		},
		gen.IntRange(1, 20),
		gen.IntRange(0, 1000),
	))

	properties.Property("backwards insertion raises OrderingViolationOutOfOrder", prop.ForAll(
		func(n, insertAt int) bool {
			stream := increasingStream(n)
			if len(stream) < 2 {
				return true
			}
			insertAt = insertAt % (len(stream) - 1)
			if insertAt < 0 {
				insertAt = -insertAt
			}
			// A tuple strictly less than its predecessor is always backwards,
			// regardless of what follows it.
			backwards := ordering.Tuple{TsEvent: stream[insertAt].TsEvent, Seq: 0}

			guard := ordering.NewGuard(ordering.ModeStrict, nil)
			var kind ordering.ViolationKind
			var violations int
			for i, tup := range stream {
				if err := guard.Check(tup); err != nil {
					violations++
					kind = err.(*ordering.ViolationError).Kind
				}
				if i == insertAt {
					if err := guard.Check(backwards); err != nil {
						violations++
						kind = err.(*ordering.ViolationError).Kind
					}
					guard.ResetTo(tup)
				}
			}
			return violations == 1 && kind == ordering.ViolationOutOfOrder
		},
		gen.IntRange(2, 20),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}

func increasingStream(n int) []ordering.Tuple {
	out := make([]ordering.Tuple, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, ordering.Tuple{TsEvent: uint64(i) * 1000, Seq: uint64(i)})
	}
	return out
}
