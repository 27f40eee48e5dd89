package ordering

import (
	"log/slog"
	"sync"
)

// GuardMode selects whether OrderingGuard raises or merely records
// violations.
type GuardMode string

const (
	ModeStrict GuardMode = "STRICT"
	ModeWarn   GuardMode = "WARN"
)

const defaultRecentViolationCapacity = 32

// Guard holds the last accepted event and enforces §4.2/§4.7's ordering
// contract across a dispatch loop.
type Guard struct {
	mu       sync.Mutex
	mode     GuardMode
	logger   *slog.Logger
	prev     Tuple
	prevSet  bool
	count    uint64
	recent   []*ViolationError
	capacity int
}

// NewGuard constructs an OrderingGuard in the given mode.
func NewGuard(mode GuardMode, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{mode: mode, logger: logger, capacity: defaultRecentViolationCapacity}
}

// Check runs the progress check against curr. In STRICT mode a violation
// is returned as an error. In WARN mode violations are logged and counted
// but never returned; Check always returns nil in WARN mode.
func (g *Guard) Check(curr Tuple) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	err := EnforceProgress(g.prev, g.prevSet, curr)
	if err != nil {
		violation := err.(*ViolationError)
		g.count++
		g.recent = append(g.recent, violation)
		if len(g.recent) > g.capacity {
			g.recent = g.recent[len(g.recent)-g.capacity:]
		}
		if g.mode == ModeStrict {
			return violation
		}
		g.logger.Warn("ordering violation", "kind", violation.Kind, "prev", violation.Prev, "curr", violation.Curr)
		g.prev = curr
		g.prevSet = true
		return nil
	}

	g.prev = curr
	g.prevSet = true
	return nil
}

// ResetTo allows resume from a known checkpoint tuple without replaying
// the progress check against history.
func (g *Guard) ResetTo(t Tuple) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prev = t
	g.prevSet = true
}

// ViolationCount returns the total number of violations observed.
func (g *Guard) ViolationCount() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

// RecentViolations returns a copy of the bounded recent-violations list.
func (g *Guard) RecentViolations() []*ViolationError {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*ViolationError, len(g.recent))
	copy(out, g.recent)
	return out
}
