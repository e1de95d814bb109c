// Package diag counts the failures that the funnel swallows so they stay
// observable without ever reaching the caller.
package diag

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Kind classifies a swallowed failure.
type Kind string

const (
	Serialize    Kind = "serialize"
	Transport    Kind = "transport"
	Listener     Kind = "listener"
	Binding      Kind = "binding"
	Unauthorized Kind = "unauthorized"
	Dropped      Kind = "dropped"
)

// Diagnostics holds per-kind failure counters and the last recorded error.
// A nil *Diagnostics is valid and records nothing.
type Diagnostics struct {
	registry *prometheus.Registry
	failures *prometheus.CounterVec

	mu      sync.Mutex
	lastErr error
	lastKnd Kind
}

// New creates a Diagnostics with its own prometheus registry.
func New() *Diagnostics {
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logshim",
		Name:      "swallowed_failures_total",
		Help:      "Failures handled locally by the log funnel, by kind.",
	}, []string{"kind"})

	reg := prometheus.NewRegistry()
	reg.MustRegister(failures)

	return &Diagnostics{
		registry: reg,
		failures: failures,
	}
}

// Record counts one failure of the given kind. err may be nil.
func (d *Diagnostics) Record(kind Kind, err error) {
	if d == nil {
		return
	}
	d.failures.With(prometheus.Labels{"kind": string(kind)}).Inc()

	if err != nil {
		d.mu.Lock()
		d.lastErr = err
		d.lastKnd = kind
		d.mu.Unlock()
	}
}

// Count returns how many failures of kind were recorded.
func (d *Diagnostics) Count(kind Kind) int {
	if d == nil {
		return 0
	}
	var m dto.Metric
	if err := d.failures.With(prometheus.Labels{"kind": string(kind)}).Write(&m); err != nil {
		return 0
	}
	return int(m.GetCounter().GetValue())
}

// LastError returns the most recent non-nil error and its kind.
func (d *Diagnostics) LastError() (Kind, error) {
	if d == nil {
		return "", nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastKnd, d.lastErr
}

// Registry exposes the counters, e.g. for a promhttp handler.
func (d *Diagnostics) Registry() *prometheus.Registry {
	if d == nil {
		return nil
	}
	return d.registry
}
