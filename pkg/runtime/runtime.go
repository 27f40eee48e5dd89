package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/replaycore/engine/pkg/canonical"
	"github.com/replaycore/engine/pkg/contracts"
	"github.com/replaycore/engine/pkg/observability"
	"github.com/replaycore/engine/pkg/ordering"
	"github.com/replaycore/engine/pkg/state"
	"go.opentelemetry.io/otel/trace"
)

// EventSource is satisfied by a replay.Sequence; kept as an interface so
// the dispatch loop is agnostic to whether events come from the bound
// Replay Engine or an externally supplied stream adapter.
type EventSource interface {
	Next(ctx context.Context) (contracts.Event, bool, error)
}

// ArchiveWriter persists the terminal Run Manifest and decision log on
// finalize. A nil ArchiveWriter disables archiving.
type ArchiveWriter interface {
	Archive(ctx context.Context, manifest contracts.RunManifest, decisions []contracts.DecisionRecord) error
}

// Config carries the thresholds and policy choices that govern one run.
// All of these are configuration, never code constants, per §5.
type Config struct {
	OrderingMode       ordering.GuardMode
	ContainmentPolicy  ContainmentPolicy
	MaxErrors          uint64
	ErrorRingCapacity  int
	CheckpointsEnabled bool
	CheckpointInterval uint64
	YieldEvery         uint64
	Backpressure       BackpressureConfig
}

// Runtime drives a Strategy through an EventSource, owning the State
// Container, OrderingGuard, ErrorContainment, Metrics Registry, and
// decision log for its run. It borrows (never owns) the Strategy, the
// Execution collaborator, and the Replay Engine.
type Runtime struct {
	mu sync.Mutex

	cfg         Config
	lifecycle   *Lifecycle
	guard       *ordering.Guard
	containment *ErrorContainment
	metrics     MetricsHandle
	stateC      *state.Container
	checkpoints *state.Manager
	archive     ArchiveWriter
	logger      *slog.Logger
	nowFunc     func() int64
	obs         *observability.Provider

	rc        *Context
	strategy  Strategy
	execution Execution
	riskHook  RiskHook
	advisory  AdvisoryHook
	observer  EventObserver

	decisions []contracts.DecisionRecord
	audits    []contracts.AuditEvent
	fills     []canonical.NormalizedFillInput

	replayRunID string

	eventCount uint64
	cursor     *ordering.Tuple
	lastEvent  contracts.Event
	hasLast    bool

	pauseCond *sync.Cond
	paused    bool
	killed    bool
}

// New constructs a Runtime in the CREATED state.
func New(
	cfg Config,
	rc *Context,
	strategy Strategy,
	execution Execution,
	riskHook RiskHook,
	advisory AdvisoryHook,
	observer EventObserver,
	stateC *state.Container,
	checkpoints *state.Manager,
	archive ArchiveWriter,
	logger *slog.Logger,
) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	var sink QuarantineSink
	r := &Runtime{
		cfg:         cfg,
		lifecycle:   NewLifecycle(nil),
		guard:       ordering.NewGuard(cfg.OrderingMode, logger),
		containment: NewErrorContainment(cfg.ContainmentPolicy, cfg.MaxErrors, cfg.ErrorRingCapacity, sink),
		metrics:     rc.Metrics,
		stateC:      stateC,
		checkpoints: checkpoints,
		archive:     archive,
		logger:      logger,
		nowFunc:     func() int64 { return time.Now().UnixMilli() },
		rc:          rc,
		strategy:    strategy,
		execution:   execution,
		riskHook:    riskHook,
		advisory:    advisory,
		observer:    observer,
	}
	r.pauseCond = sync.NewCond(&r.mu)
	return r
}

// SetQuarantineSink attaches the concrete QUARANTINE-policy sink.
func (r *Runtime) SetQuarantineSink(sink QuarantineSink) {
	r.containment = NewErrorContainment(r.cfg.ContainmentPolicy, r.cfg.MaxErrors, r.cfg.ErrorRingCapacity, sink)
}

// SetObservability attaches the ambient OTel provider used for
// dispatch-loop spans and RED metrics. A nil provider (the default)
// disables all tracing/metrics recording.
func (r *Runtime) SetObservability(obs *observability.Provider) {
	r.obs = obs
}

// Init transitions CREATED -> INITIALIZING -> READY, invoking the
// strategy's init callback.
func (r *Runtime) Init(ctx context.Context) error {
	if err := r.lifecycle.Transition(StateInitializing, ""); err != nil {
		return err
	}
	if err := r.strategy.Init(ctx, r.rc); err != nil {
		_ = r.lifecycle.Transition(StateFailed, "init_error")
		return err
	}
	return r.lifecycle.Transition(StateReady, "")
}

// Run drives src to completion, dispatching each event per §4.6, then
// finalizes the run and returns its terminal Run Manifest.
func (r *Runtime) Run(ctx context.Context, src EventSource, replayRunID string, firstTs, lastTsHint uint64) (contracts.RunManifest, error) {
	if err := r.lifecycle.Transition(StateRunning, ""); err != nil {
		return contracts.RunManifest{}, err
	}
	r.replayRunID = replayRunID

	var runDone func(error)
	if r.obs != nil {
		ctx, runDone = r.obs.TrackRun(ctx, r.rc.RunID)
	}

	var endedReason string
	var runErr error
	var stopReason = contracts.StopEndOfStream
	firstSeen := false
	var firstTsEvent, lastTsEvent uint64

	for {
		r.mu.Lock()
		for r.paused && !r.killed {
			r.pauseCond.Wait()
		}
		killed := r.killed
		r.mu.Unlock()
		if killed {
			stopReason = contracts.StopError
			endedReason = "kill"
			break
		}

		event, ok, err := src.Next(ctx)
		if err != nil {
			runErr = err
			if errors.Is(err, ErrQueueOverflow) {
				// queue_overflow is a fixed literal analogous to "kill", not
				// a generically classified error category (§5 scenario S6).
				endedReason = "queue_overflow"
			} else {
				endedReason = classifyEndedReason(err)
			}
			stopReason = contracts.StopError
			break
		}
		if !ok {
			break
		}
		if !firstSeen {
			firstTsEvent = event.TsEvent
			firstSeen = true
		}
		lastTsEvent = event.TsEvent

		if err := r.dispatch(ctx, event); err != nil {
			runErr = err
			endedReason = classifyEndedReason(err)
			stopReason = contracts.StopError
			break
		}
	}

	manifest, finalizeErr := r.finalize(ctx, replayRunID, firstTsEvent, lastTsEvent, stopReason, endedReason, runErr)
	if runDone != nil {
		finalErr := runErr
		if finalErr == nil {
			finalErr = finalizeErr
		}
		runDone(finalErr)
	}
	if runErr != nil {
		return manifest, runErr
	}
	return manifest, finalizeErr
}

// NewIngestQueue constructs a backpressure Queue governed by this
// Runtime's configured HIGH/LOW/MAX thresholds, for a producer pushing
// an externally supplied event stream (e.g. a socket or message-bus
// consumer) rather than a bound Replay Engine sequence.
func (r *Runtime) NewIngestQueue() *Queue {
	return NewQueue(r.cfg.Backpressure)
}

// RunQueue drives queue to completion exactly like Run, adapting it to
// an EventSource via queueSource. The producer pushes events onto queue
// from its own goroutine and calls queue.Close once its stream ends;
// a MAX breach observed by queue.Push surfaces here as ErrQueueOverflow,
// which Run maps to ended_reason="queue_overflow" and a terminal FAILED
// transition (§5 scenario S6).
func (r *Runtime) RunQueue(ctx context.Context, queue *Queue, replayRunID string, firstTs, lastTsHint uint64) (contracts.RunManifest, error) {
	return r.Run(ctx, &queueSource{queue: queue}, replayRunID, firstTs, lastTsHint)
}

func classifyEndedReason(err error) string {
	var cerr *contracts.Error
	if ok := asContractsError(err, &cerr); ok {
		return string(cerr.ErrorCode)
	}
	return "error"
}

func asContractsError(err error, target **contracts.Error) bool {
	for err != nil {
		if ce, ok := err.(*contracts.Error); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// dispatch runs the eight-step event dispatch algorithm of §4.6.
func (r *Runtime) dispatch(ctx context.Context, event contracts.Event) error {
	dispatchStart := r.nowFunc()
	if r.obs != nil {
		var span trace.Span
		ctx, span = r.obs.StartDispatchSpan(ctx, event.TsEvent, event.Seq)
		defer span.End()
	}
	var dispatchErr error
	defer func() {
		if r.obs != nil {
			r.obs.RecordDispatch(ctx, time.Duration(r.nowFunc()-dispatchStart)*time.Millisecond, dispatchErr)
		}
	}()

	// 1. Apply OrderingGuard against the previous event.
	t := ordering.Tuple{TsEvent: event.TsEvent, Seq: event.Seq}
	if err := r.guard.Check(t); err != nil {
		dispatchErr = err
		return err
	}

	// 2. Build cursor info; update Runtime State cursor. PlaceOrder calls
	// made from within this dispatch (steps 3-4) resolve against this
	// event via r.lastEvent/r.cursor.
	r.cursor = &t
	r.lastEvent = event
	r.hasLast = true
	encodedCursor := ordering.EncodeCursor(t)

	// 3. Invoke optional risk pre-hook for forced exits and the ML
	// advisory pre-hook.
	if r.riskHook != nil {
		if forced := r.riskHook.ForceExit(ctx, event, r.rc); forced != nil {
			intent := *forced
			intent.RiskForced = true
			if _, err := r.placeOrder(ctx, intent, event, encodedCursor); err != nil {
				r.logger.Warn("risk-forced order placement failed", "error", err)
			}
		}
	}
	if r.advisory != nil {
		r.advisory.Observe(ctx, event, r.rc)
	}

	// 4. Invoke the strategy's event callback, wrapped in ErrorContainment.
	outcome, err := r.containment.Invoke(ctx, event, r.eventCount, func(ctx context.Context) error {
		return r.strategy.OnEvent(ctx, event, r.rc)
	})
	if err != nil {
		dispatchErr = err
		return err
	}
	if r.metrics != nil {
		switch outcome {
		case OutcomeOK:
			r.metrics.IncrCounter("events_ok_total", 1)
		case OutcomeSkipped:
			r.metrics.IncrCounter("events_skipped_total", 1)
		}
	}

	// 5. Update event counter and metrics. No separate state mirrors are
	// kept; snapshots read the State Container directly.
	r.eventCount++
	if r.metrics != nil {
		r.metrics.IncrCounter("events_total", 1)
		r.metrics.SetGauge("queue_depth", 0)
	}

	// 6. The Guard already remembers this event as "previous" internally
	// for the next ordering check.

	// 7. Event observer, panics recovered with a warning.
	if r.observer != nil {
		snap := r.snapshot(encodedCursor)
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Warn("event observer panicked", "recover", rec)
				}
			}()
			r.observer.Observe(event, r.eventCount, uint64(len(r.decisions)), snap)
		}()
	}

	// 8. Optional checkpoint.
	if r.cfg.CheckpointsEnabled && r.checkpoints != nil && r.cfg.CheckpointInterval > 0 && r.eventCount%r.cfg.CheckpointInterval == 0 {
		if snap, err := r.stateC.Snapshot(); err == nil {
			checkpointID := fmt.Sprintf("cp_%d", r.eventCount)
			if err := r.checkpoints.Save(ctx, snap.State, checkpointID, r.eventCount, snap.Version); err != nil {
				r.logger.Warn("checkpoint save failed", "error", err)
			}
		}
	}

	return nil
}

// PlaceOrder validates an execution collaborator is attached, routes
// through optional risk validation, records a Decision and Audit event,
// executes the order, and appends the resulting Fill. It operates
// against the event currently being dispatched.
func (r *Runtime) PlaceOrder(ctx context.Context, intent contracts.OrderIntent) (contracts.Fill, error) {
	if !r.hasLast {
		return contracts.Fill{}, contracts.New(contracts.CodeConfigError, "place_order called outside event dispatch", nil)
	}
	encodedCursor := ""
	if r.cursor != nil {
		encodedCursor = ordering.EncodeCursor(*r.cursor)
	}
	return r.placeOrder(ctx, intent, r.lastEvent, encodedCursor)
}

func (r *Runtime) placeOrder(ctx context.Context, intent contracts.OrderIntent, event contracts.Event, encodedCursor string) (contracts.Fill, error) {
	if r.execution == nil {
		return contracts.Fill{}, contracts.New(contracts.CodeConfigError, "no execution collaborator attached", nil)
	}

	rejected := false
	reason := ""
	if !intent.RiskForced && r.riskHook != nil {
		ok, why := r.riskHook.Check(ctx, intent, r.rc)
		if !ok {
			rejected = true
			reason = why
		}
	}

	decision := contracts.DecisionRecord{
		ReplayRunID: r.replayRunID,
		Cursor:      encodedCursor,
		TsEvent:     event.TsEvent,
		Decision: map[string]any{
			"symbol":      intent.Symbol,
			"side":        string(intent.Side),
			"qty":         intent.Qty,
			"price":       intent.Price,
			"risk_forced": intent.RiskForced,
			"rejected":    rejected,
			"reason":      reason,
		},
	}
	r.decisions = append(r.decisions, decision)
	r.audits = append(r.audits, contracts.AuditEvent{
		Actor:      "strategy",
		Action:     "place_order",
		TargetType: "order_intent",
		TargetID:   intent.Symbol,
		Metadata:   map[string]any{"rejected": rejected},
	})

	if rejected {
		return contracts.Fill{}, fmt.Errorf("runtime: order rejected by risk hook: %s", reason)
	}

	fill, err := r.execution.Execute(ctx, intent, event)
	if err != nil {
		return contracts.Fill{}, err
	}
	r.fills = append(r.fills, canonical.NormalizedFillInput{
		ID:        fill.ID,
		Side:      string(fill.Side),
		FillPrice: fill.FillPrice,
		Qty:       fill.Qty,
		TsEvent:   fill.TsEvent,
	})
	if r.metrics != nil {
		r.metrics.IncrCounter("fills_total", 1)
	}
	return fill, nil
}

func (r *Runtime) snapshot(encodedCursor string) contracts.RuntimeStateSnapshot {
	fillsHash, _ := canonical.FillsHash(r.fills)
	stateHash, _ := canonical.StateHash(encodedCursor, nil, r.stateC.Get())
	return contracts.RuntimeStateSnapshot{
		RunID:         r.rc.RunID,
		Cursor:        encodedCursor,
		StrategyState: r.stateC.Get(),
		EventCount:    r.eventCount,
		FillsCount:    uint64(len(r.fills)),
		StateHash:     stateHash,
		FillsHash:     fillsHash,
		Timestamp:     r.nowFunc(),
	}
}

// Pause transitions RUNNING -> PAUSED, parking the dispatch loop.
func (r *Runtime) Pause() error {
	if err := r.lifecycle.Transition(StatePaused, ""); err != nil {
		return err
	}
	r.mu.Lock()
	r.paused = true
	r.mu.Unlock()
	return nil
}

// Resume transitions PAUSED -> RUNNING, waking the dispatch loop.
func (r *Runtime) Resume() error {
	if err := r.lifecycle.Transition(StateRunning, ""); err != nil {
		return err
	}
	r.mu.Lock()
	r.paused = false
	r.mu.Unlock()
	r.pauseCond.Broadcast()
	return nil
}

// Kill requests cooperative cancellation: it sets a flag and wakes a
// paused dispatch loop, which checks the flag before pulling each next
// event and then finalizes the run with ended_reason="kill". No
// synthetic orders are placed; open positions are not flushed.
func (r *Runtime) Kill(ctx context.Context) {
	r.mu.Lock()
	r.killed = true
	r.paused = false
	r.mu.Unlock()
	r.pauseCond.Broadcast()
}

// finalize invokes the strategy's finalize callback, saves a final
// checkpoint if configured, archives the run, and computes the terminal
// Run Manifest.
func (r *Runtime) finalize(ctx context.Context, replayRunID string, firstTs, lastTs uint64, stopReason contracts.StopReason, endedReason string, runErr error) (contracts.RunManifest, error) {
	if err := r.lifecycle.Transition(StateFinalizing, ""); err != nil {
		return contracts.RunManifest{}, err
	}

	if runErr == nil {
		if err := r.strategy.Finalize(ctx, r.rc); err != nil {
			runErr = err
		}
	}

	encodedCursor := ""
	if r.cursor != nil {
		encodedCursor = ordering.EncodeCursor(*r.cursor)
	}

	if r.cfg.CheckpointsEnabled && r.checkpoints != nil {
		if snap, err := r.stateC.Snapshot(); err == nil {
			_ = r.checkpoints.Save(ctx, snap.State, "final", r.eventCount, snap.Version)
		}
	}

	fillsHash, _ := canonical.FillsHash(r.fills)
	stateHash, _ := canonical.StateHash(encodedCursor, nil, r.stateC.Get())
	decisionHash, _ := canonical.DecisionHash(r.decisions)
	configHash, _ := canonical.Hash(r.rc.Config)

	manifest := contracts.RunManifest{
		RunID:       r.rc.RunID,
		StartedAt:   r.lifecycle.StartedAt(),
		EndedReason: endedReason,
		Input: contracts.RunManifestInput{
			Dataset:    r.rc.DatasetID,
			ConfigHash: configHash,
		},
		Output: contracts.RunManifestOutput{
			EventCount:    r.eventCount,
			FillsCount:    uint64(len(r.fills)),
			DecisionCount: uint64(len(r.decisions)),
			DecisionHash:  decisionHash,
			StateHash:     stateHash,
			FillsHash:     fillsHash,
			LastCursor:    encodedCursor,
		},
		Replay: contracts.RunManifestReplay{
			ReplayRunID:       replayRunID,
			FirstTsEvent:      firstTs,
			LastTsEvent:       lastTs,
			StopReason:        string(stopReason),
			EmittedEventCount: r.eventCount,
		},
	}

	final := StateDone
	if runErr != nil {
		final = StateFailed
		if endedReason == "" {
			endedReason = "error"
		}
	} else if endedReason == "" {
		endedReason = "completed"
	}
	if r.killedFlag() {
		final = StateDone
		endedReason = "kill"
	}
	if err := r.lifecycle.Transition(final, endedReason); err != nil {
		return manifest, err
	}
	manifest.EndedAt = r.lifecycle.EndedAt()
	manifest.EndedReason = r.lifecycle.EndedReason()

	if r.archive != nil {
		if err := r.archive.Archive(ctx, manifest, r.decisions); err != nil {
			r.logger.Warn("archive write failed", "error", err)
		}
	}

	return manifest, runErr
}

func (r *Runtime) killedFlag() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.killed
}

// Lifecycle exposes the underlying state machine for inspection.
func (r *Runtime) Lifecycle() *Lifecycle { return r.lifecycle }

// EventCount, Decisions, Fills expose terminal counters for tests.
func (r *Runtime) EventCount() uint64                        { return r.eventCount }
func (r *Runtime) Decisions() []contracts.DecisionRecord      { return r.decisions }
func (r *Runtime) Fills() []canonical.NormalizedFillInput     { return r.fills }
func (r *Runtime) ErrorContainment() *ErrorContainment        { return r.containment }
func (r *Runtime) OrderingGuard() *ordering.Guard             { return r.guard }
