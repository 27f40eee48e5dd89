// Package ordering implements the Ordering Contract: a strict total order
// over (ts_event, seq) tuples, the progress check that guards it, and the
// exclusive-resume cursor codec used to drive a columnar reader.
package ordering

import (
	"fmt"

	"github.com/replaycore/engine/pkg/contracts"
)

// Tuple is the OrderingTuple value for one event: (ts_event, seq). v1
// fixes the tuple at these two unsigned-64 columns; the comparator is
// written so a tie-break column could be appended without algorithmic
// change elsewhere (§3).
type Tuple struct {
	TsEvent uint64
	Seq     uint64
}

// FromEvent extracts the OrderingTuple from an Event.
func FromEvent(e contracts.Event) Tuple {
	return Tuple{TsEvent: e.TsEvent, Seq: e.Seq}
}

// Compare returns -1, 0, or +1 comparing a to b lexicographically over
// (TsEvent, Seq), each column compared as an unsigned 64-bit integer.
func Compare(a, b Tuple) int {
	if a.TsEvent < b.TsEvent {
		return -1
	}
	if a.TsEvent > b.TsEvent {
		return 1
	}
	if a.Seq < b.Seq {
		return -1
	}
	if a.Seq > b.Seq {
		return 1
	}
	return 0
}

// ViolationKind classifies an ordering violation.
type ViolationKind string

const (
	ViolationDuplicate  ViolationKind = "OrderingViolationDuplicate"
	ViolationOutOfOrder ViolationKind = "OrderingViolationOutOfOrder"
)

// ViolationError is raised by EnforceProgress.
type ViolationError struct {
	Kind ViolationKind
	Prev Tuple
	Curr Tuple
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("%s: prev=%+v curr=%+v", e.Kind, e.Prev, e.Curr)
}

// EnforceProgress implements §4.2's progress check. prevSet is false on
// the first call for a stream (prev absent is always accepted).
func EnforceProgress(prev Tuple, prevSet bool, curr Tuple) error {
	if !prevSet {
		return nil
	}
	cmp := Compare(curr, prev)
	switch {
	case cmp == 0:
		return &ViolationError{Kind: ViolationDuplicate, Prev: prev, Curr: curr}
	case cmp < 0:
		return &ViolationError{Kind: ViolationOutOfOrder, Prev: prev, Curr: curr}
	default:
		return nil
	}
}
