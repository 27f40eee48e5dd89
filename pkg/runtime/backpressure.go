package runtime

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/replaycore/engine/pkg/contracts"
)

// Signal is what Queue.Push reports back to an upstream producer.
type Signal int

const (
	SignalNone Signal = iota
	SignalStop
	SignalResume
	SignalOverflow
)

// BackpressureConfig carries the HIGH/LOW/MAX thresholds as
// configuration, never code constants, per §5.
type BackpressureConfig struct {
	High uint64
	Low  uint64
	Max  uint64
}

// ErrQueueOverflow is surfaced through the EventSource interface once a
// Queue observes a MAX breach. RunQueue maps it to a terminal FAILED
// transition with ended_reason="queue_overflow" (§5, scenario S6); the
// producer is expected to stop calling Push once it receives
// SignalOverflow from a prior call.
var ErrQueueOverflow = errors.New("runtime: backpressure queue overflow")

// Queue is the bounded FIFO the Runtime drains when dispatching an
// externally supplied event stream. Reaching High signals the upstream
// producer to stop; dropping to Low signals resume; reaching Max is
// terminal overflow. Pop blocks cooperatively until an item is
// available, the queue is closed, or it has overflowed.
type Queue struct {
	mu         sync.Mutex
	cond       *sync.Cond
	items      []contracts.Event
	cfg        BackpressureConfig
	signaled   bool // true once HIGH has fired and RESUME has not yet
	overflowed bool
	closed     bool
}

// NewQueue constructs a Queue governed by cfg.
func NewQueue(cfg BackpressureConfig) *Queue {
	q := &Queue{cfg: cfg}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues event and reports the hysteresis signal the upstream
// producer must act on. SignalOverflow means the caller must treat the
// run as terminal with ended_reason="queue_overflow"; the event is
// enqueued regardless, and later Push calls are ignored. Stop is
// reported once, by the push that first reaches High.
func (q *Queue) Push(event contracts.Event) Signal {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.overflowed {
		return SignalNone
	}

	q.items = append(q.items, event)
	depth := uint64(len(q.items))
	q.cond.Broadcast()

	if depth > q.cfg.Max {
		q.overflowed = true
		return SignalOverflow
	}
	if depth >= q.cfg.High && !q.signaled {
		q.signaled = true
		return SignalStop
	}
	return SignalNone
}

// Pop removes and returns the oldest queued event, reporting a resume
// signal if depth has dropped to or below Low. It blocks until an item
// is available, the queue is closed with nothing left to drain, or the
// queue has overflowed.
func (q *Queue) Pop() (contracts.Event, bool, Signal) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed && !q.overflowed {
		q.cond.Wait()
	}

	if len(q.items) == 0 {
		return contracts.Event{}, false, SignalNone
	}

	e := q.items[0]
	q.items = q.items[1:]

	depth := uint64(len(q.items))
	if q.signaled && depth <= q.cfg.Low {
		q.signaled = false
		return e, true, SignalResume
	}
	return e, true, SignalNone
}

// Close marks the producer done; a subsequent Pop on an empty queue
// returns immediately instead of blocking.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Overflowed reports whether Push has ever observed a MAX breach.
func (q *Queue) Overflowed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.overflowed
}

// Len reports the current queue depth.
func (q *Queue) Len() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return uint64(len(q.items))
}

// queueSource adapts a Queue to the EventSource interface so the
// existing dispatch loop in Run can drive an externally supplied,
// push-based stream without any change to its own logic. Once the queue
// has overflowed, Next returns ErrQueueOverflow without popping the
// events still queued, so a pending overflow is never masked by a
// subsequent close.
type queueSource struct {
	queue *Queue
}

func (s *queueSource) Next(ctx context.Context) (contracts.Event, bool, error) {
	if s.queue.Overflowed() {
		return contracts.Event{}, false, ErrQueueOverflow
	}
	event, ok, _ := s.queue.Pop()
	if !ok {
		if s.queue.Overflowed() {
			return contracts.Event{}, false, ErrQueueOverflow
		}
		return contracts.Event{}, false, nil
	}
	return event, true, nil
}

// Yielder decides cooperative yield points for an event loop using a
// token-bucket limiter. Runtime.Run does not use a Yielder, and its
// dispatch loop does not read Config.YieldEvery.
type Yielder struct {
	limiter    *rate.Limiter
	yieldEvery uint64
	processed  uint64
}

// NewYielder constructs a Yielder that grants one yield token per
// interval and forces a yield at least every yieldEvery processed
// events regardless of the limiter's state.
func NewYielder(limit rate.Limit, burst int, yieldEvery uint64) *Yielder {
	if yieldEvery == 0 {
		yieldEvery = 1
	}
	return &Yielder{
		limiter:    rate.NewLimiter(limit, burst),
		yieldEvery: yieldEvery,
	}
}

// Tick records one processed event and reports whether the dispatch
// loop should yield control now.
func (y *Yielder) Tick() bool {
	y.processed++
	if y.processed%y.yieldEvery == 0 {
		return true
	}
	return y.limiter.Allow()
}
