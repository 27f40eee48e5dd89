package runtime

import (
	"context"
	"testing"

	"github.com/replaycore/engine/pkg/contracts"
	"github.com/replaycore/engine/pkg/ordering"
	"github.com/replaycore/engine/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRuntime_S6_QueueOverflowTerminatesFailed drives the same S6
// thresholds as TestQueue_S6_OverflowAtMaxPlusOne, but through
// Runtime.RunQueue end to end: a MAX breach must surface as
// ErrQueueOverflow, fail the run, and record ended_reason=
// "queue_overflow" on the terminal manifest.
func TestRuntime_S6_QueueOverflowTerminatesFailed(t *testing.T) {
	sc := state.NewContainer(nil)
	strategy := &counterStrategy{container: sc}
	cfg := Config{
		OrderingMode:      ordering.ModeStrict,
		ContainmentPolicy: PolicyFailFast,
		MaxErrors:         10,
		ErrorRingCapacity: 8,
		Backpressure:      BackpressureConfig{High: 1500, Low: 500, Max: 2000},
	}
	rc := NewContext("run_test", "dataset_test", nil, nil)
	rt := New(cfg, rc, strategy, nil, nil, nil, nil, sc, nil, nil, nil)
	require.NoError(t, rt.Init(context.Background()))

	queue := rt.NewIngestQueue()
	for i := 0; i < 2001; i++ {
		queue.Push(contracts.Event{TsEvent: uint64(i + 1), Seq: uint64(i + 1)})
	}
	require.True(t, queue.Overflowed())
	queue.Close()

	manifest, err := rt.RunQueue(context.Background(), queue, "replay_overflow", 0, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueueOverflow)
	assert.Equal(t, "queue_overflow", manifest.EndedReason)
	assert.Equal(t, StateFailed, rt.Lifecycle().State())
}

// TestRuntime_QueueDrainsToCompletionWithoutOverflow covers the normal
// path: a producer below every threshold is drained to DONE exactly
// like the Replay-Engine-driven path.
func TestRuntime_QueueDrainsToCompletionWithoutOverflow(t *testing.T) {
	sc := state.NewContainer(nil)
	strategy := &counterStrategy{container: sc}
	cfg := Config{
		OrderingMode:      ordering.ModeStrict,
		ContainmentPolicy: PolicyFailFast,
		MaxErrors:         10,
		ErrorRingCapacity: 8,
		Backpressure:      BackpressureConfig{High: 1500, Low: 500, Max: 2000},
	}
	rc := NewContext("run_test", "dataset_test", nil, nil)
	rt := New(cfg, rc, strategy, nil, nil, nil, nil, sc, nil, nil, nil)
	require.NoError(t, rt.Init(context.Background()))

	queue := rt.NewIngestQueue()
	for i := 0; i < 10; i++ {
		sig := queue.Push(contracts.Event{TsEvent: uint64((i + 1) * 1000), Seq: uint64(i + 1)})
		require.Equal(t, SignalNone, sig)
	}
	queue.Close()

	manifest, err := rt.RunQueue(context.Background(), queue, "replay_clean", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), manifest.Output.EventCount)
	assert.Equal(t, "completed", manifest.EndedReason)
	assert.Equal(t, StateDone, rt.Lifecycle().State())
}
