package strategies

import (
	"context"

	"github.com/replaycore/engine/pkg/contracts"
	"github.com/replaycore/engine/pkg/runtime"
	"github.com/replaycore/engine/pkg/state"
)

// MarketMaker places one order per crossed-spread event on a
// top-of-book stream, alternating BUY and SELL across such events and
// tracking a single open position in its state
// container. It exercises the full place_order/Fill/Decision path the
// Counter strategy never touches.
type MarketMaker struct {
	container      *state.Container
	rt             *runtime.Runtime
	symbol         string
	spreadThresh   float64
	qty            float64
	hasOpenBuy     bool
}

// NewMarketMaker constructs a MarketMaker. SetRuntime must be called
// before Init, since place_order requires the owning Runtime.
func NewMarketMaker(container *state.Container, symbol string, spreadThreshold, qty float64) *MarketMaker {
	return &MarketMaker{
		container:    container,
		symbol:       symbol,
		spreadThresh: spreadThreshold,
		qty:          qty,
	}
}

// SetRuntime attaches the Runtime this strategy will call PlaceOrder
// against. The CLI wires this immediately after runtime.New, before
// Init runs.
func (m *MarketMaker) SetRuntime(rt *runtime.Runtime) {
	m.rt = rt
}

func (m *MarketMaker) Init(ctx context.Context, rc *runtime.Context) error {
	m.container.Set(map[string]any{"position": float64(0), "orders_placed": float64(0)})
	return nil
}

func (m *MarketMaker) OnEvent(ctx context.Context, event contracts.Event, rc *runtime.Context) error {
	bid, bidOK := asFloat(event.Payload["bid_price"])
	ask, askOK := asFloat(event.Payload["ask_price"])
	if !bidOK || !askOK {
		return nil
	}
	spread := ask - bid
	if spread < m.spreadThresh {
		return nil
	}

	side := contracts.SideBuy
	if m.hasOpenBuy {
		side = contracts.SideSell
	}
	price := bid
	if side == contracts.SideSell {
		price = ask
	}

	_, err := m.rt.PlaceOrder(ctx, contracts.OrderIntent{
		Symbol: m.symbol,
		Side:   side,
		Qty:    m.qty,
		Price:  price,
	})
	if err != nil {
		return err
	}

	m.hasOpenBuy = !m.hasOpenBuy
	delta := m.qty
	if side == contracts.SideSell {
		delta = -m.qty
	}
	m.container.Increment("position", delta)
	m.container.Increment("orders_placed", 1)
	return nil
}

func (m *MarketMaker) Finalize(ctx context.Context, rc *runtime.Context) error {
	return nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
