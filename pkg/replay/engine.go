// Package replay implements the Replay Engine: a lazy, strictly ordered
// sequence of events over one or many columnar sources, with exclusive
// cursor resume, time-range bounds, and a multi-pass factory abstraction.
package replay

import (
	"context"
	"fmt"

	"github.com/replaycore/engine/pkg/columnar"
	"github.com/replaycore/engine/pkg/contracts"
	"github.com/replaycore/engine/pkg/ordering"
)

const defaultBatchSize = 1024

// Options configure one replay() invocation.
type Options struct {
	BatchSize int
	Cursor    *ordering.Tuple
	StartTs   *uint64
	EndTs     *uint64
}

func (o Options) timeRange() columnar.TimeRange {
	return columnar.TimeRange{Start: o.StartTs, End: o.EndTs}
}

func (o Options) batchSize() int {
	if o.BatchSize > 0 {
		return o.BatchSize
	}
	return defaultBatchSize
}

// ErrIteratorReused is raised when a sequence produced by a stale
// generation of row_factory() is driven after a newer generation has been
// created, the misuse class §4.5/S4 requires be detectable.
var ErrIteratorReused = fmt.Errorf("replay: iterator reused after row_factory produced a newer generation")

// Engine owns a Handle opened over a validated manifest and serves
// independent passes over it via row_factory.
type Engine struct {
	handle     columnar.Handle
	totalRows  uint64
	generation uint64
}

// New wraps an already-opened columnar Handle. The manifest's declared
// row count is used for the event-count validation in §4.5.
func New(handle columnar.Handle, manifestRows uint64) *Engine {
	return &Engine{handle: handle, totalRows: manifestRows}
}

// Close releases the underlying columnar handle. Idempotent.
func (e *Engine) Close() error {
	if e.handle == nil {
		return nil
	}
	err := e.handle.Close()
	e.handle = nil
	return err
}

// Sequence is one independent, lazily-driven pass produced by
// row_factory(). It is not safe for concurrent use, and driving it after
// a newer generation exists returns ErrIteratorReused.
type Sequence struct {
	engine     *Engine
	generation uint64
	opts       Options
	cursor     *ordering.Tuple
	guard      *ordering.Guard
	done       bool
	emitted    uint64
	result     contracts.ReplayResult
	leftover   []contracts.Event
}

// RowFactory returns a fresh Sequence representing an independent cursor
// over the engine's dataset, per §4.5's multi-pass streaming requirement.
// Each call bumps the engine's generation counter; the previous
// generation's Sequence becomes stale and raises ErrIteratorReused if
// driven further.
func (e *Engine) RowFactory(opts Options) *Sequence {
	e.generation++
	return &Sequence{
		engine:     e,
		generation: e.generation,
		opts:       opts,
		cursor:     opts.Cursor,
		guard:      ordering.NewGuard(ordering.ModeStrict, nil),
	}
}

// Replay is a convenience single-pass helper equivalent to calling
// RowFactory once and draining it via Next until Done.
func (e *Engine) Replay(ctx context.Context, opts Options) *Sequence {
	return e.RowFactory(opts)
}

func (s *Sequence) checkGeneration() error {
	if s.generation != s.engine.generation {
		return ErrIteratorReused
	}
	return nil
}

// Next returns the next event in order, or (Event{}, false, nil) when the
// sequence has terminated normally. An error return always means the
// sequence has also terminated.
func (s *Sequence) Next(ctx context.Context) (contracts.Event, bool, error) {
	if err := s.checkGeneration(); err != nil {
		return contracts.Event{}, false, err
	}
	if s.done {
		return contracts.Event{}, false, nil
	}

	if len(s.leftover) == 0 {
		batch, err := s.engine.handle.Batch(ctx, s.opts.batchSize(), s.cursor, s.opts.timeRange())
		if err != nil {
			s.done = true
			s.result = contracts.ReplayResult{RowsEmitted: s.emitted, StopReason: contracts.StopError}
			return contracts.Event{}, false, err
		}
		if len(batch) == 0 {
			s.done = true
			s.result = contracts.ReplayResult{RowsEmitted: s.emitted, StopReason: contracts.StopEndOfStream}
			return contracts.Event{}, false, nil
		}
		s.leftover = batch
	}

	row := s.leftover[0]
	s.leftover = s.leftover[1:]
	return s.emit(row)
}

func (s *Sequence) emit(row contracts.Event) (contracts.Event, bool, error) {
	t := ordering.FromEvent(row)
	if err := s.guard.Check(t); err != nil {
		s.done = true
		s.result = contracts.ReplayResult{RowsEmitted: s.emitted, StopReason: contracts.StopError}
		return contracts.Event{}, false, err
	}
	s.cursor = &t
	s.emitted++
	return row, true, nil
}

// Result returns the terminal result once the sequence has finished.
// Calling it before termination returns the zero value.
func (s *Sequence) Result() contracts.ReplayResult { return s.result }

// Cursor returns the last-emitted cursor tuple, or nil if nothing has
// been emitted yet.
func (s *Sequence) Cursor() *ordering.Tuple { return s.cursor }

// ValidateEventCount checks the event-count invariant of §4.5: the number
// of emitted events must equal either FilteredRowCount(range) or the
// manifest's declared row count when no range is set.
func (e *Engine) ValidateEventCount(ctx context.Context, opts Options, emitted uint64) error {
	if opts.StartTs == nil && opts.EndTs == nil {
		if emitted != e.totalRows {
			return contracts.New(contracts.CodeRowCountMismatch,
				fmt.Sprintf("emitted %d events but manifest declares %d rows", emitted, e.totalRows), nil)
		}
		return nil
	}

	expected, err := e.handle.FilteredRowCount(ctx, opts.timeRange())
	if err != nil {
		return err
	}
	if emitted != expected {
		return contracts.New(contracts.CodeRowCountMismatch,
			fmt.Sprintf("emitted %d events but filtered row count is %d", emitted, expected), nil)
	}
	return nil
}
