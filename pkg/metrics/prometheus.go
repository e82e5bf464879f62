package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the global container of dispatch-core Prometheus collectors.
type Metrics struct {
	// Assignment engine
	AssignmentsTotal    *prometheus.CounterVec
	AssignmentDuration   *prometheus.HistogramVec
	AssignmentScore      *prometheus.HistogramVec
	DispatchAlertsTotal  *prometheus.CounterVec

	// Route optimizer
	OptimizeOperationsTotal *prometheus.CounterVec
	OptimizeDuration        *prometheus.HistogramVec
	RouteDistanceKm         *prometheus.HistogramVec
	VehiclesUsed            *prometheus.HistogramVec

	// Escalation monitor
	EscalationsTotal *prometheus.CounterVec

	// Cycle orchestrator
	EngineTicksTotal  *prometheus.CounterVec
	EngineTickFailed  *prometheus.CounterVec
	EngineTickDuration *prometheus.HistogramVec

	// Persistence gateway
	StoreCallDuration  *prometheus.HistogramVec
	StoreCallTimeouts  *prometheus.CounterVec
	BreakerState       *prometheus.GaugeVec

	ServiceInfo *prometheus.GaugeVec
}

var defaultMetrics *Metrics

// InitMetrics registers and returns the global Metrics container.
func InitMetrics(namespace, subsystem string) *Metrics {
	m := &Metrics{
		AssignmentsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "assignments_total",
				Help:      "Total number of Assign outcomes",
			},
			[]string{"assignment_type", "status"},
		),

		AssignmentDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "assignment_duration_seconds",
				Help:      "Duration of a single Assign call",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2},
			},
			[]string{"status"},
		),

		AssignmentScore: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "assignment_score",
				Help:      "Winning driver score for successful assignments",
				Buckets:   []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
			},
			[]string{},
		),

		DispatchAlertsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "dispatch_alerts_total",
				Help:      "Total number of DispatchAlert rows emitted",
			},
			[]string{"type", "severity"},
		),

		OptimizeOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "optimize_operations_total",
				Help:      "Total number of Optimize calls",
			},
			[]string{"status"}, // ok, degraded
		),

		OptimizeDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "optimize_duration_seconds",
				Help:      "Duration of route optimization runs",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"status"},
		),

		RouteDistanceKm: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "route_distance_km",
				Help:      "Total distance of emitted routes",
				Buckets:   []float64{1, 2, 5, 10, 20, 30, 50, 100},
			},
			[]string{},
		),

		VehiclesUsed: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "vehicles_used",
				Help:      "Vehicles used per optimization run",
				Buckets:   []float64{1, 2, 3, 5, 10, 20, 50},
			},
			[]string{},
		),

		EscalationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "escalations_total",
				Help:      "Total number of EscalationLog rows written",
			},
			[]string{"type", "severity"},
		),

		EngineTicksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "engine_ticks_total",
				Help:      "Total number of cycle-orchestrator ticks run",
			},
			[]string{"engine"},
		),

		EngineTickFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "engine_tick_failed_total",
				Help:      "Total number of cycle-orchestrator ticks that errored or panicked",
			},
			[]string{"engine"},
		),

		EngineTickDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "engine_tick_duration_seconds",
				Help:      "Duration of a single engine tick",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60},
			},
			[]string{"engine"},
		),

		StoreCallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "store_call_duration_seconds",
				Help:      "Duration of persistence-gateway calls",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2, 5},
			},
			[]string{"repository", "method"},
		),

		StoreCallTimeouts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "store_call_timeouts_total",
				Help:      "Total number of persistence-gateway calls that hit their deadline",
			},
			[]string{"repository", "method"},
		),

		BreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "store_breaker_state",
				Help:      "Persistence gateway circuit breaker state (0=closed, 1=half_open, 2=open)",
			},
			[]string{},
		),

		ServiceInfo: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "service_info",
				Help:      "Service information",
			},
			[]string{"version", "environment"},
		),
	}

	// Runtime stats (goroutine count, heap size, GC pauses) are reported
	// through a dedicated prometheus.Collector rather than gauges set by
	// hand, since they're sampled on every /metrics scrape instead of on
	// an engine-tick cadence.
	prometheus.MustRegister(NewRuntimeCollector(namespace, subsystem))

	defaultMetrics = m
	return m
}

// Get returns the global Metrics container, initializing it with defaults if needed.
func Get() *Metrics {
	if defaultMetrics == nil {
		return InitMetrics("dispatch", "")
	}
	return defaultMetrics
}

// RecordAssignment records the outcome of a single Assign call.
func (m *Metrics) RecordAssignment(assignmentType, status string, duration time.Duration, score float64) {
	m.AssignmentsTotal.WithLabelValues(assignmentType, status).Inc()
	m.AssignmentDuration.WithLabelValues(status).Observe(duration.Seconds())
	if status == "ok" {
		m.AssignmentScore.WithLabelValues().Observe(score)
	}
}

// RecordDispatchAlert records a DispatchAlert emission.
func (m *Metrics) RecordDispatchAlert(alertType, severity string) {
	m.DispatchAlertsTotal.WithLabelValues(alertType, severity).Inc()
}

// RecordOptimize records the outcome of a single Optimize run.
func (m *Metrics) RecordOptimize(status string, duration time.Duration, vehiclesUsed int, distanceKm float64) {
	m.OptimizeOperationsTotal.WithLabelValues(status).Inc()
	m.OptimizeDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.VehiclesUsed.WithLabelValues().Observe(float64(vehiclesUsed))
	m.RouteDistanceKm.WithLabelValues().Observe(distanceKm)
}

// RecordEscalation records one EscalationLog write.
func (m *Metrics) RecordEscalation(escalationType, severity string) {
	m.EscalationsTotal.WithLabelValues(escalationType, severity).Inc()
}

// RecordEngineTick records a completed cycle-orchestrator tick.
func (m *Metrics) RecordEngineTick(engine string, duration time.Duration, failed bool) {
	m.EngineTicksTotal.WithLabelValues(engine).Inc()
	m.EngineTickDuration.WithLabelValues(engine).Observe(duration.Seconds())
	if failed {
		m.EngineTickFailed.WithLabelValues(engine).Inc()
	}
}

// RecordStoreCall records a persistence-gateway call.
func (m *Metrics) RecordStoreCall(repository, method string, duration time.Duration, timedOut bool) {
	m.StoreCallDuration.WithLabelValues(repository, method).Observe(duration.Seconds())
	if timedOut {
		m.StoreCallTimeouts.WithLabelValues(repository, method).Inc()
	}
}

// SetBreakerState sets the persistence gateway's breaker-state gauge.
// 0=closed, 1=half_open, 2=open.
func (m *Metrics) SetBreakerState(state float64) {
	m.BreakerState.WithLabelValues().Set(state)
}

// SetServiceInfo sets the service-info gauge.
func (m *Metrics) SetServiceInfo(version, environment string) {
	m.ServiceInfo.WithLabelValues(version, environment).Set(1)
}

// Handler returns the HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartMetricsServer starts the Prometheus sidecar HTTP server.
func StartMetricsServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK")) //nolint:errcheck // health endpoint, write error not actionable
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
