package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/replaycore/engine/pkg/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorContainment_FailFastReraisesImmediately(t *testing.T) {
	c := NewErrorContainment(PolicyFailFast, 100, 8, nil)
	boom := errors.New("boom")

	outcome, err := c.Invoke(context.Background(), contracts.Event{}, 0, func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, OutcomeError, outcome)
	assert.Equal(t, uint64(1), c.ErrorCount())
}

func TestErrorContainment_SkipAndLogDoneAtErrorCountEqualsMax(t *testing.T) {
	// Invariant 7: under max_errors contained errors with SKIP_AND_LOG,
	// the run completes with skipped_events_total == error_count.
	c := NewErrorContainment(PolicySkipAndLog, 3, 8, nil)
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		outcome, err := c.Invoke(context.Background(), contracts.Event{}, uint64(i), func(context.Context) error { return boom })
		require.NoError(t, err)
		assert.Equal(t, OutcomeSkipped, outcome)
	}
	assert.Equal(t, uint64(3), c.ErrorCount())
	assert.Equal(t, uint64(3), c.SkipCount())
}

func TestErrorContainment_ErrorLimitExceededAtMaxPlusOne(t *testing.T) {
	// Invariant 7: at error_count == max_errors + 1, the run reaches FAILED.
	c := NewErrorContainment(PolicySkipAndLog, 3, 8, nil)
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		_, err := c.Invoke(context.Background(), contracts.Event{}, uint64(i), func(context.Context) error { return boom })
		require.NoError(t, err)
	}

	_, err := c.Invoke(context.Background(), contracts.Event{}, 3, func(context.Context) error { return boom })
	require.Error(t, err)
	var cerr *contracts.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, contracts.CodeErrorLimitExceeded, cerr.ErrorCode)
}

type recordingSink struct {
	records []string
}

func (s *recordingSink) Record(event contracts.Event, reason string) error {
	s.records = append(s.records, reason)
	return nil
}

func TestErrorContainment_QuarantineTagsEvent(t *testing.T) {
	sink := &recordingSink{}
	c := NewErrorContainment(PolicyQuarantine, 100, 8, sink)
	boom := errors.New("bad row")

	outcome, err := c.Invoke(context.Background(), contracts.Event{TsEvent: 42}, 0, func(context.Context) error { return boom })
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	require.Len(t, sink.records, 1)
	assert.Equal(t, "bad row", sink.records[0])
}

func TestErrorContainment_RecentErrorsBounded(t *testing.T) {
	c := NewErrorContainment(PolicySkipAndLog, 100, 2, nil)
	boom := errors.New("boom")
	for i := 0; i < 5; i++ {
		_, _ = c.Invoke(context.Background(), contracts.Event{}, uint64(i), func(context.Context) error { return boom })
	}
	assert.Len(t, c.RecentErrors(), 2)
}
