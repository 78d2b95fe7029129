package writer

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	operationsTotal *prometheus.CounterVec
	chunkDuration   *prometheus.HistogramVec
	legacyFallback  prometheus.Counter
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		operationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger_writer",
			Name:      "operations_total",
			Help:      "Total number of ledger write operations by kind and result.",
		}, []string{"kind", "result"}),
		chunkDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ledger_writer",
			Name:      "chunk_duration_seconds",
			Help:      "Time taken to write one chunk of ledger operations.",
			Buckets: []float64{
				0.005, 0.01, 0.025,
				0.05, 0.1, 0.25,
				0.5, 1, 2.5, 5, 10,
			},
		}, []string{"kind"}),
		legacyFallback: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "ledger_writer",
			Name:      "legacy_fallback_total",
			Help:      "Number of runs that switched to the legacy (staff, course) conflict key.",
		}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
