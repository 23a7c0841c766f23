package automation

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	executionsTotal *prometheus.CounterVec
	hostsTotal      *prometheus.CounterVec
	risksTotal      *prometheus.CounterVec

	// metricsOnce ensures metrics are only registered once.
	metricsOnce sync.Once

	metricsRegistered bool
)

// InitMetrics registers the automation metrics with the default Prometheus
// registry. Call once at startup when metrics are enabled; managers are safe
// to run without it.
func InitMetrics() {
	metricsOnce.Do(func() {
		executionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credops_executions_total",
			Help: "Total automation executions by type and final status",
		}, []string{"type", "status"})

		hostsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credops_hosts_total",
			Help: "Total per-host outcomes by automation type and outcome",
		}, []string{"type", "outcome"})

		risksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credops_risks_total",
			Help: "Total account risks detected by risk kind",
		}, []string{"risk"})

		metricsRegistered = true
	})
}

func countExecution(typ, status string) {
	if metricsRegistered {
		executionsTotal.WithLabelValues(typ, status).Inc()
	}
}

func countHost(typ, outcome string) {
	if metricsRegistered {
		hostsTotal.WithLabelValues(typ, outcome).Inc()
	}
}

// CountRisk increments the risk counter for one detection. Exported for the
// reconciliation engine.
func CountRisk(risk string) {
	if metricsRegistered {
		risksTotal.WithLabelValues(risk).Inc()
	}
}
