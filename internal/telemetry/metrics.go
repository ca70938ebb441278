package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "metricengine"

// Metrics holds the Prometheus collectors of the engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	FetchTotal    *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec
	RateUsage     prometheus.Gauge
	BatchSize     *prometheus.GaugeVec
	TickersTotal  *prometheus.CounterVec
	ConfigErrors  prometheus.Counter
	RunDuration   prometheus.Histogram
	EventsTotal   prometheus.Counter
	Persisted     prometheus.Counter
}

// New registers every collector on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		FetchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "fetch_total",
			Help:      "Provider fetches by endpoint and outcome",
		}, []string{"endpoint", "status"}),
		FetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "fetch_duration_seconds",
			Help:      "Provider fetch latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		RateUsage: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "rate_usage_ratio",
			Help:      "Requests in the sliding window divided by the quota",
		}),
		BatchSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "chunk_size",
			Help:      "Size of the last ticker chunk by sizing mode",
		}, []string{"mode"}),
		TickersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "tickers_total",
			Help:      "Processed tickers by status",
		}, []string{"status"}),
		ConfigErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "config_errors_total",
			Help:      "Metric configuration errors reported by runs",
		}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "run_duration_seconds",
			Help:      "Batch run duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		EventsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "events_computed_total",
			Help:      "Events with computed results",
		}),
		Persisted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "rows_upserted_total",
			Help:      "Rows written by the result sink",
		}),
	}
}

// Handler exposes the registry for scraping
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry (tests)
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveFetch records one provider call
func (m *Metrics) ObserveFetch(endpoint string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.FetchTotal.WithLabelValues(endpoint, status).Inc()
	m.FetchDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// SetRateUsage records the limiter usage ratio
func (m *Metrics) SetRateUsage(usage float64) {
	if m == nil {
		return
	}
	m.RateUsage.Set(usage)
}

// ObserveChunk records the size chosen for the next ticker chunk
func (m *Metrics) ObserveChunk(size int, mode string) {
	if m == nil {
		return
	}
	m.BatchSize.WithLabelValues(mode).Set(float64(size))
}

// ObserveTicker counts a finished ticker subtask
func (m *Metrics) ObserveTicker(status string) {
	if m == nil {
		return
	}
	m.TickersTotal.WithLabelValues(status).Inc()
}

// ObserveRun records one finished batch run
func (m *Metrics) ObserveRun(elapsed time.Duration, events, configErrors, persisted int) {
	if m == nil {
		return
	}
	m.RunDuration.Observe(elapsed.Seconds())
	m.EventsTotal.Add(float64(events))
	m.ConfigErrors.Add(float64(configErrors))
	m.Persisted.Add(float64(persisted))
}
