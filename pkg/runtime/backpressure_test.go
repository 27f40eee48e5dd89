package runtime

import (
	"testing"

	"github.com/replaycore/engine/pkg/contracts"
	"github.com/stretchr/testify/assert"
)

// TestQueue_S6_BackpressureHysteresis is the spec's S6 scenario: with
// HIGH=1500, LOW=500, MAX=2000, feeding 1600 events without consumption
// must signal stop; draining to 400 must signal resume; feeding 2001
// without consumption must overflow.
func TestQueue_S6_BackpressureHysteresis(t *testing.T) {
	q := NewQueue(BackpressureConfig{High: 1500, Low: 500, Max: 2000})

	var stopDepth uint64
	for i := 0; i < 1600; i++ {
		if q.Push(contracts.Event{TsEvent: uint64(i)}) == SignalStop {
			stopDepth = q.Len()
		}
	}
	assert.Equal(t, uint64(1500), stopDepth, "producer must receive a stop signal on reaching HIGH while feeding 1600 events")

	// Drain down to 400 (1600 - 1200 = 400).
	var resumeSeen bool
	for i := 0; i < 1200; i++ {
		_, ok, sig := q.Pop()
		assert.True(t, ok)
		if sig == SignalResume {
			resumeSeen = true
		}
	}
	assert.True(t, resumeSeen, "producer must receive a resume signal on reaching LOW")
	assert.Equal(t, uint64(400), q.Len())
}

func TestQueue_S6_OverflowAtMaxPlusOne(t *testing.T) {
	q := NewQueue(BackpressureConfig{High: 1500, Low: 500, Max: 2000})

	var lastSignal Signal
	for i := 0; i < 2001; i++ {
		lastSignal = q.Push(contracts.Event{TsEvent: uint64(i)})
	}
	assert.Equal(t, SignalOverflow, lastSignal)
}

func TestYielder_ForcesYieldEveryN(t *testing.T) {
	y := NewYielder(1, 1, 5)
	var yields int
	for i := 0; i < 10; i++ {
		if y.Tick() {
			yields++
		}
	}
	assert.GreaterOrEqual(t, yields, 2)
}
