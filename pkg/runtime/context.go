package runtime

import (
	"github.com/google/uuid"
)

// Context is the Runtime Context composed at initialization: the
// deterministic run_id, dataset identity, frozen configuration, the
// metrics handle, and session-scoped identifiers used only for
// logging/quarantine, never for hashed outputs. It carries no
// order-placement callback and no execution-state accessor; orders go
// through Runtime.PlaceOrder.
type Context struct {
	RunID          string
	DatasetID      string
	Config         map[string]any
	SessionID      string
	QuarantineID   string
	Metrics        MetricsHandle
}

// MetricsHandle is the subset of the metrics registry the Runtime and
// strategies are permitted to write through.
type MetricsHandle interface {
	IncrCounter(name string, delta float64)
	SetGauge(name string, value float64)
	Observe(name string, value float64)
}

// NewContext composes a Runtime Context. runID must already be derived
// from {dataset, strategy_config, seed} by the caller (§4.6 determinism
// obligations) — this constructor never computes it, only carries it.
func NewContext(runID, datasetID string, config map[string]any, metrics MetricsHandle) *Context {
	frozen := make(map[string]any, len(config))
	for k, v := range config {
		frozen[k] = v
	}
	return &Context{
		RunID:        runID,
		DatasetID:    datasetID,
		Config:       frozen,
		SessionID:    uuid.NewString(),
		QuarantineID: uuid.NewString(),
		Metrics:      metrics,
	}
}
