package runtime

import (
	"context"

	"github.com/replaycore/engine/pkg/contracts"
)

// Strategy is the callback surface the Runtime drives through each
// event. Implementations own no lifecycle concerns of their own —
// init is invoked once, on_event once per dispatched row, and finalize
// once at the end of a run that ended without error (it is not invoked
// when the run failed).
type Strategy interface {
	Init(ctx context.Context, rc *Context) error
	OnEvent(ctx context.Context, event contracts.Event, rc *Context) error
	Finalize(ctx context.Context, rc *Context) error
}

// RiskHook observes or forces exits around order placement. Unless it
// places an order itself via ForceExit, it must behave as a pure
// observer.
type RiskHook interface {
	// Check runs before a strategy-initiated order. Returning ok=false
	// rejects the intent with reason.
	Check(ctx context.Context, intent contracts.OrderIntent, rc *Context) (ok bool, reason string)
	// ForceExit may return a synthetic order intent to flush a position;
	// returning nil means no forced action this event.
	ForceExit(ctx context.Context, event contracts.Event, rc *Context) *contracts.OrderIntent
}

// AdvisoryHook observes each event for auxiliary signal computation. It
// must never place orders.
type AdvisoryHook interface {
	Observe(ctx context.Context, event contracts.Event, rc *Context)
}

// Execution produces a Fill for an accepted OrderIntent.
type Execution interface {
	Execute(ctx context.Context, intent contracts.OrderIntent, event contracts.Event) (contracts.Fill, error)
}

// EventObserver is notified after each dispatched event; a panic inside
// Observe is recovered and logged as a warning per §4.6 step 7.
type EventObserver interface {
	Observe(event contracts.Event, eventIndex uint64, decisionCount uint64, snapshot contracts.RuntimeStateSnapshot)
}
