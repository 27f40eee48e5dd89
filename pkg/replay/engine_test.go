package replay

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/replaycore/engine/pkg/columnar"
	"github.com/replaycore/engine/pkg/contracts"
	"github.com/replaycore/engine/pkg/ordering"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tenEventDataset(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")
	content := ""
	for i := 1; i <= 10; i++ {
		content += `{"ts_event":` + itoa(i*1000) + `,"seq":` + itoa(i) + `,"payload":{}}` + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func drain(t *testing.T, seq *Sequence) int {
	t.Helper()
	ctx := context.Background()
	count := 0
	for {
		_, ok, err := seq.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		count++
	}
	return count
}

func TestReplay_S1_DeterministicMinimalRun(t *testing.T) {
	path := tenEventDataset(t)
	h, err := columnar.Open(context.Background(), []string{path}, columnar.RemoteConfig{}, nil)
	require.NoError(t, err)
	defer h.Close()

	engine := New(h, 10)
	seq := engine.RowFactory(Options{})
	count := drain(t, seq)

	assert.Equal(t, 10, count)
	assert.Equal(t, contracts.StopEndOfStream, seq.Result().StopReason)
	assert.Equal(t, uint64(10000), seq.Cursor().TsEvent)
	assert.Equal(t, uint64(10), seq.Cursor().Seq)
}

func TestReplay_S4_RowFactoryIndependentPasses(t *testing.T) {
	path := tenEventDataset(t)
	h, err := columnar.Open(context.Background(), []string{path}, columnar.RemoteConfig{}, nil)
	require.NoError(t, err)
	defer h.Close()

	engine := New(h, 10)
	pass1 := engine.RowFactory(Options{})
	count1 := drain(t, pass1)
	assert.Equal(t, 10, count1)

	pass2 := engine.RowFactory(Options{})
	count2 := drain(t, pass2)
	assert.Equal(t, 10, count2, "second independent pass must deliver the full row count")

	_, _, err = pass1.Next(context.Background())
	assert.ErrorIs(t, err, ErrIteratorReused)
}

func TestReplay_S2_ExclusiveResumeConcatenation(t *testing.T) {
	path := tenEventDataset(t)
	h, err := columnar.Open(context.Background(), []string{path}, columnar.RemoteConfig{}, nil)
	require.NoError(t, err)
	defer h.Close()

	engine := New(h, 10)
	full := engine.RowFactory(Options{})
	var fullEvents []uint64
	for {
		e, ok, err := full.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		fullEvents = append(fullEvents, e.TsEvent)
	}

	// Resume from the cursor after the 5th event (ts_event=5000, seq=5).
	h2, err := columnar.Open(context.Background(), []string{path}, columnar.RemoteConfig{}, nil)
	require.NoError(t, err)
	defer h2.Close()
	engine2 := New(h2, 10)

	resumeCursor := fifthCursor(t, path)
	resumed := engine2.RowFactory(Options{Cursor: &resumeCursor})
	var resumedEvents []uint64
	for {
		e, ok, err := resumed.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		resumedEvents = append(resumedEvents, e.TsEvent)
	}

	assert.Equal(t, fullEvents[5:], resumedEvents)
}

func fifthCursor(t *testing.T, path string) ordering.Tuple {
	t.Helper()
	h, err := columnar.Open(context.Background(), []string{path}, columnar.RemoteConfig{}, nil)
	require.NoError(t, err)
	defer h.Close()
	engine := New(h, 10)
	seq := engine.RowFactory(Options{})
	var last ordering.Tuple
	for i := 0; i < 5; i++ {
		e, ok, err := seq.Next(context.Background())
		require.NoError(t, err)
		require.True(t, ok)
		last = ordering.Tuple{TsEvent: e.TsEvent, Seq: e.Seq}
	}
	return last
}
