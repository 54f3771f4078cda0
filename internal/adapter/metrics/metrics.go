// Package metrics implements ports.Metrics with Prometheus collectors.
package metrics

import (
	"time"

	"marketplace-ledger/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ledger"

// Prometheus records ledger, gateway and compensation outcomes.
type Prometheus struct {
	entries       *prometheus.CounterVec
	gatewayCalls  *prometheus.CounterVec
	gatewayTime   *prometheus.HistogramVec
	compensations *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Prometheus, error) {
	m := &Prometheus{
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_recorded_total",
			Help:      "Ledger entries committed, by kind and currency.",
		}, []string{"kind", "currency"}),
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_calls_total",
			Help:      "Payment gateway calls, by operation and outcome.",
		}, []string{"operation", "outcome"}),
		gatewayTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_call_duration_seconds",
			Help:      "Payment gateway call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensations_total",
			Help:      "Compensating refunds after a charge could not be recorded, by outcome.",
		}, []string{"outcome"}),
	}

	for _, c := range []prometheus.Collector{m.entries, m.gatewayCalls, m.gatewayTime, m.compensations} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Prometheus) EntryRecorded(kind domain.EntryKind, currency domain.Currency) {
	m.entries.WithLabelValues(string(kind), string(currency)).Inc()
}

func (m *Prometheus) GatewayCall(operation string, outcome string, elapsed time.Duration) {
	m.gatewayCalls.WithLabelValues(operation, outcome).Inc()
	m.gatewayTime.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *Prometheus) CompensationOutcome(outcome string) {
	m.compensations.WithLabelValues(outcome).Inc()
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) EntryRecorded(domain.EntryKind, domain.Currency) {}
func (Nop) GatewayCall(string, string, time.Duration)       {}
func (Nop) CompensationOutcome(string)                      {}
