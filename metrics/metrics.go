// Package metrics exposes coordinator activity to Prometheus. Nothing in
// here feeds back into execution results.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/govm-net/mvm/core"
)

const namespace = "mvm"

// Operation labels
const (
	OpPublish       = "publish"
	OpPublishBundle = "publish_bundle"
	OpExecute       = "execute"
	OpUpdateStdlib  = "update_stdlib"
	OpEstimate      = "estimate"
)

// Metrics 协调器指标
type Metrics struct {
	invocations *prometheus.CounterVec
	gasUsed     *prometheus.HistogramVec
	fees        prometheus.Counter
	version     prometheus.Gauge
}

// New creates the collectors and registers them on reg
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Coordinator invocations by operation and VM status",
		}, []string{"op", "status"}),
		gasUsed: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gas_used",
			Help:      "Gas used per invocation",
			Buckets:   prometheus.ExponentialBuckets(1000, 4, 10),
		}, []string{"op"}),
		fees: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fees_charged_total",
			Help:      "Fees debited for failed executions",
		}),
		version: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ledger_version",
			Help:      "Latest committed ledger version",
		}),
	}

	for _, c := range []prometheus.Collector{m.invocations, m.gasUsed, m.fees, m.version} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Observe records one finished invocation. A nil receiver is a no-op.
func (m *Metrics) Observe(op string, status core.StatusCode, gasUsed uint64) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(op, status.String()).Inc()
	m.gasUsed.WithLabelValues(op).Observe(float64(gasUsed))
}

// ObserveFee records a charged fee
func (m *Metrics) ObserveFee(fee uint64) {
	if m == nil || fee == 0 {
		return
	}
	m.fees.Add(float64(fee))
}

// SetVersion records the latest ledger version
func (m *Metrics) SetVersion(v uint64) {
	if m == nil {
		return
	}
	m.version.Set(float64(v))
}
