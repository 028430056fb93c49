package deployer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/eugenenazirov/crowdsale-migrations/internal/storage"
)

// Metrics holds deployment counters. A nil *Metrics records nothing.
type Metrics struct {
	deployments *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	gasUsed     *prometheus.GaugeVec
}

// NewMetrics registers deployment metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		deployments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crowdsale_deployments_total",
				Help: "Total number of contract deployments by contract and status",
			},
			[]string{"contract", "status"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crowdsale_deployment_duration_seconds",
				Help:    "Time from submission to confirmation of a deployment",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"contract"},
		),
		gasUsed: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crowdsale_deployment_gas_used",
				Help: "Gas used by the most recent deployment of a contract",
			},
			[]string{"contract"},
		),
	}
}

func (m *Metrics) observe(contract string, deployment *storage.Deployment, err error, elapsed time.Duration) {
	if m == nil {
		return
	}

	status := "success"
	switch {
	case err != nil:
		status = "failure"
	case deployment != nil && deployment.DryRun:
		status = "dry_run"
	}
	m.deployments.WithLabelValues(contract, status).Inc()
	m.duration.WithLabelValues(contract).Observe(elapsed.Seconds())
	if deployment != nil && deployment.GasUsed > 0 {
		m.gasUsed.WithLabelValues(contract).Set(float64(deployment.GasUsed))
	}
}
