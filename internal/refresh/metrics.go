package refresh

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "discovery_summary_runs_total",
		Help: "Refresh runs by outcome",
	}, []string{"outcome"})

	runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "discovery_summary_run_duration_seconds",
		Help:    "Wall time of refresh runs",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	rowsPublished = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "discovery_summary_rows",
		Help: "Rows written by the last successful publish, by geo type",
	}, []string{"geo_type"})

	lastSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "discovery_summary_last_success_timestamp_seconds",
		Help: "Unix time of the last fully successful refresh",
	})
)

// RegisterMetrics registers the refresh collectors with reg. Registering
// twice with the same registry is a no-op.
func RegisterMetrics(reg prometheus.Registerer) {
	for _, c := range []prometheus.Collector{runsTotal, runDuration, rowsPublished, lastSuccess} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}
