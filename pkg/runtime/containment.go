package runtime

import (
	"context"

	"github.com/replaycore/engine/pkg/contracts"
)

// ContainmentPolicy selects how ErrorContainment reacts to a callback
// error.
type ContainmentPolicy string

const (
	PolicyFailFast     ContainmentPolicy = "FAIL_FAST"
	PolicySkipAndLog   ContainmentPolicy = "SKIP_AND_LOG"
	PolicyQuarantine   ContainmentPolicy = "QUARANTINE"
)

// Outcome classifies the result of one contained invocation.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeSkipped Outcome = "skipped"
	OutcomeError   Outcome = "error"
)

// ErrorContext is retained in the bounded error ring for diagnostics.
type ErrorContext struct {
	EventIndex uint64
	TsEvent    uint64
	Err        error
	Outcome    Outcome
}

// QuarantineSink receives a record for each event contained under the
// QUARANTINE policy.
type QuarantineSink interface {
	Record(event contracts.Event, reason string) error
}

// ErrorContainment wraps the per-event strategy callback, classifying
// each outcome and enforcing a hard error-count ceiling regardless of
// policy.
type ErrorContainment struct {
	policy     ContainmentPolicy
	maxErrors  uint64
	ring       []ErrorContext
	ringCap    int
	errorCount uint64
	skipCount  uint64
	sink       QuarantineSink
}

// NewErrorContainment constructs an ErrorContainment under policy, with
// maxErrors as the hard cap and ringCap bounding retained contexts.
func NewErrorContainment(policy ContainmentPolicy, maxErrors uint64, ringCap int, sink QuarantineSink) *ErrorContainment {
	return &ErrorContainment{
		policy:    policy,
		maxErrors: maxErrors,
		ringCap:   ringCap,
		sink:      sink,
	}
}

// ErrorCount, SkipCount report the running totals.
func (c *ErrorContainment) ErrorCount() uint64 { return c.errorCount }
func (c *ErrorContainment) SkipCount() uint64  { return c.skipCount }

// RecentErrors returns a copy of the bounded error ring.
func (c *ErrorContainment) RecentErrors() []ErrorContext {
	out := make([]ErrorContext, len(c.ring))
	copy(out, c.ring)
	return out
}

// Invoke runs fn, classifying and containing any error per policy.
// Under SKIP_AND_LOG and QUARANTINE, once error_count exceeds maxErrors
// the wrapper raises ErrorLimitExceeded, terminating the run.
func (c *ErrorContainment) Invoke(ctx context.Context, event contracts.Event, eventIndex uint64, fn func(context.Context) error) (Outcome, error) {
	err := fn(ctx)
	if err == nil {
		return OutcomeOK, nil
	}

	c.errorCount++
	outcome := OutcomeError

	switch c.policy {
	case PolicyFailFast:
		c.remember(eventIndex, event.TsEvent, err, outcome)
		return outcome, err
	case PolicySkipAndLog:
		c.skipCount++
		outcome = OutcomeSkipped
	case PolicyQuarantine:
		c.skipCount++
		outcome = OutcomeSkipped
		if c.sink != nil {
			_ = c.sink.Record(event, err.Error())
		}
	}

	c.remember(eventIndex, event.TsEvent, err, outcome)

	if c.errorCount > c.maxErrors {
		return OutcomeError, contracts.New(contracts.CodeErrorLimitExceeded, "error limit exceeded", map[string]any{
			"error_count": c.errorCount,
			"max_errors":  c.maxErrors,
		})
	}

	return outcome, nil
}

func (c *ErrorContainment) remember(eventIndex, tsEvent uint64, err error, outcome Outcome) {
	if c.ringCap <= 0 {
		return
	}
	c.ring = append(c.ring, ErrorContext{EventIndex: eventIndex, TsEvent: tsEvent, Err: err, Outcome: outcome})
	if len(c.ring) > c.ringCap {
		c.ring = c.ring[len(c.ring)-c.ringCap:]
	}
}
