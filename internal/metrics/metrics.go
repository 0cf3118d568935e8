package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	. "github.com/lifthrasiir/forkchat/internal/types"
)

var operationsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "forkchat_operations_total",
	Help: "Graph operations by name and outcome kind (ok or an error kind)",
}, []string{"operation", "outcome"})

var lockWaitMetric = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "forkchat_chat_lock_wait_seconds",
	Help:    "Time spent waiting for a per-chat lock",
	Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1, 10, 60},
})

var assistantMetric = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "forkchat_assistant_reply_seconds",
	Help:    "Latency of assistant reply attempts",
	Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
}, []string{"outcome"})

var pendingForksMetric = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "forkchat_pending_forks",
	Help: "Fork messages written without their branch, as of the last reconciliation",
})

var reconciledMetric = promauto.NewCounter(prometheus.CounterOpts{
	Name: "forkchat_reconciled_forks_total",
	Help: "Pending forks completed by reconciliation",
})

// ObserveOperation counts one finished operation.
func ObserveOperation(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
	}
	operationsMetric.WithLabelValues(operation, outcome).Inc()
}

func ObserveLockWait(d time.Duration) { lockWaitMetric.Observe(d.Seconds()) }

// ObserveAssistant records one assistant attempt.
func ObserveAssistant(d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	assistantMetric.WithLabelValues(outcome).Observe(d.Seconds())
}

func SetPendingForks(n int) { pendingForksMetric.Set(float64(n)) }
func AddReconciled(n int)   { reconciledMetric.Add(float64(n)) }
