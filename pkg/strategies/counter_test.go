package strategies

import (
	"context"
	"testing"

	"github.com/replaycore/engine/pkg/contracts"
	"github.com/replaycore/engine/pkg/ordering"
	runtimepkg "github.com/replaycore/engine/pkg/runtime"
	"github.com/replaycore/engine/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounter_RecordsEventCountAndPlacesNoOrders(t *testing.T) {
	sc := state.NewContainer(nil)
	counter := NewCounter(sc)
	cfg := runtimepkg.Config{
		OrderingMode:      ordering.ModeStrict,
		ContainmentPolicy: runtimepkg.PolicyFailFast,
		MaxErrors:         10,
		ErrorRingCapacity: 8,
	}
	rc := runtimepkg.NewContext("run_counter", "dataset_counter", nil, nil)
	rt := runtimepkg.New(cfg, rc, counter, nil, nil, nil, nil, sc, nil, nil, nil)
	require.NoError(t, rt.Init(context.Background()))

	src := &sliceSource{events: []contracts.Event{
		{TsEvent: 1000, Seq: 1, Payload: map[string]any{}},
		{TsEvent: 2000, Seq: 2, Payload: map[string]any{}},
		{TsEvent: 3000, Seq: 3, Payload: map[string]any{}},
	}}
	manifest, err := rt.Run(context.Background(), src, "replay_counter_1", 0, 0)
	require.NoError(t, err)

	assert.Equal(t, uint64(3), manifest.Output.EventCount)
	assert.Equal(t, uint64(0), manifest.Output.DecisionCount)
	m := sc.Get().(map[string]any)
	assert.Equal(t, float64(3), m["event_count"])
}
