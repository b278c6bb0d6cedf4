package rdb

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mesh-intelligence/studystore/pkg/types"
)

// metrics holds the engine's Prometheus collectors.
type metrics struct {
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	outcomes   *prometheus.CounterVec
	sessions   prometheus.Counter
}

// newMetrics creates the collectors and registers them with r. On a
// registration error nothing stays registered and the returned metrics are
// usable but private.
func newMetrics(r prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studystore",
			Name:      "operations_total",
			Help:      "Repository operations by result.",
		}, []string{"operation", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "studystore",
			Name:      "operation_duration_seconds",
			Help:      "Repository operation latency, including the transaction commit.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"operation"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studystore",
			Name:      "write_outcomes_total",
			Help:      "Resolution of idempotent insert-or-verify writes.",
		}, []string{"table", "outcome"}),
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "studystore",
			Name:      "sessions_acquired_total",
			Help:      "Sessions handed out by Acquire.",
		}),
	}
	// Collectors this call added, rolled back if a later one is rejected.
	var added []prometheus.Collector
	var err error
	if m.operations, err = register(r, m.operations, &added); err == nil {
		if m.durations, err = register(r, m.durations, &added); err == nil {
			if m.outcomes, err = register(r, m.outcomes, &added); err == nil {
				m.sessions, err = register(r, m.sessions, &added)
			}
		}
	}
	if err != nil {
		for _, c := range added {
			r.Unregister(c)
		}
		return m, fmt.Errorf("registering metrics: %w", err)
	}
	return m, nil
}

// register adds c to r, reusing an identical collector that another backend
// in the same process already registered. Any other failure returns c
// unregistered together with the error.
func register[C prometheus.Collector](r prometheus.Registerer, c C, added *[]prometheus.Collector) (C, error) {
	if err := r.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	*added = append(*added, c)
	return c, nil
}

func (m *metrics) observe(operation string, start time.Time, err error) {
	m.operations.WithLabelValues(operation, statusOf(err)).Inc()
	m.durations.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *metrics) outcome(table string, o types.WriteOutcome) {
	m.outcomes.WithLabelValues(table, o.String()).Inc()
}

// statusOf maps an operation error to a metric label.
func statusOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, types.ErrRaceDiscarded):
		return "race_discarded"
	case errors.Is(err, types.ErrNotFound):
		return "not_found"
	case errors.Is(err, types.ErrInvariantViolation):
		return "invariant_violation"
	default:
		return "error"
	}
}
