// Package strategies provides reference Strategy implementations for
// the CLI runner and the determinism test scenarios: a no-op counter
// (S1/S2/S3) and a minimal top-of-book market maker exercising the
// place_order/Fill/Decision path.
package strategies

import (
	"context"

	"github.com/replaycore/engine/pkg/contracts"
	"github.com/replaycore/engine/pkg/runtime"
	"github.com/replaycore/engine/pkg/state"
)

// Counter records event_count in its state container and places no
// orders. It is the reference strategy for the determinism scenarios:
// two runs over the same dataset must produce the same state_hash.
type Counter struct {
	container *state.Container
}

// NewCounter constructs a Counter bound to container. The Runtime owns
// container; Counter only mutates it from Init and OnEvent.
func NewCounter(container *state.Container) *Counter {
	return &Counter{container: container}
}

func (c *Counter) Init(ctx context.Context, rc *runtime.Context) error {
	c.container.Set(map[string]any{"event_count": float64(0)})
	return nil
}

func (c *Counter) OnEvent(ctx context.Context, event contracts.Event, rc *runtime.Context) error {
	c.container.Increment("event_count", 1)
	return nil
}

func (c *Counter) Finalize(ctx context.Context, rc *runtime.Context) error {
	return nil
}
