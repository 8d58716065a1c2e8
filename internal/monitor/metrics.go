package monitor

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/turtacn/Fopwatch/pkg/logger"
)

var (
	// GenerationDuration tracks the wall time of one render round trip in seconds.
	GenerationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fopwatch_generation_duration_seconds",
		Help:    "Time taken to render a document pair",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})
	// GenerationsTotal counts generation outcomes, partitioned by error class ("success" on success).
	GenerationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fopwatch_generations_total",
		Help: "Total number of generation requests by outcome",
	}, []string{"outcome"})
	// WorkerExitsTotal counts engine process exits, partitioned by reason.
	WorkerExitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fopwatch_worker_exits_total",
		Help: "Total number of engine worker exits",
	}, []string{"reason"})
	// WorkerState exposes the worker state ordinal (0 stopped, 1 starting, 2 ready, 3 terminating).
	WorkerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fopwatch_worker_state",
		Help: "Current engine worker state",
	})
	// PendingRequests is the size of the correlation table.
	PendingRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fopwatch_pending_requests",
		Help: "Requests awaiting an engine response",
	})
	// DecodeErrorsTotal counts dropped response frames.
	DecodeErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fopwatch_protocol_decode_errors_total",
		Help: "Total number of malformed response frames dropped",
	})
	// SettleEventsTotal counts debounced workspace change notifications.
	SettleEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fopwatch_settle_events_total",
		Help: "Total number of settled workspace change notifications",
	})
)

var registerOnce sync.Once

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		GenerationDuration, GenerationsTotal, WorkerExitsTotal,
		WorkerState, PendingRequests, DecodeErrorsTotal, SettleEventsTotal,
	}
}

// Register adds the collectors to the default registry once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(collectors()...)
	})
}

// InitMetrics registers Prometheus metrics and starts an HTTP server to expose them.
// An empty address only registers.
func InitMetrics(addr string) {
	Register()
	if addr == "" {
		return
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Log.Info("Metrics server starting", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Log.Error("Metrics server failed", "err", err)
		}
	}()
}

// Personal.AI order the ending
