package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "autopilot"

type moduleMetrics struct {
	activeSessions prometheus.Gauge
	runsTotal      *prometheus.CounterVec
	runDuration    prometheus.Histogram
	phaseDuration  *prometheus.HistogramVec
	phaseFailures  *prometheus.CounterVec

	modelCallsTotal   *prometheus.CounterVec
	modelCallDuration *prometheus.HistogramVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	operatorActionsTotal *prometheus.CounterVec
	eventsAppended       *prometheus.CounterVec
	mcpConnects          *prometheus.CounterVec

	storeOps        *prometheus.CounterVec
	storeOpDuration *prometheus.HistogramVec
	gatewayClients  prometheus.Gauge
	gatewayRequests *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Sessions whose loop is currently running.",
			}),
			runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Finished runs by terminal status.",
			}, []string{"status"}),
			runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall time of a run from start to terminal event.",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			}),
			phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Duration of loop phases.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"phase"}),
			phaseFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phase_failures_total",
				Help:      "Failed loop phases, fatal or recovered.",
			}, []string{"phase"}),
			modelCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_calls_total",
				Help:      "Model calls by provider, kind and status.",
			}, []string{"provider", "kind", "status"}),
			modelCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "model_call_duration_seconds",
				Help:      "Model call latency by provider.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"provider"}),
			toolExecutionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_execution_total",
				Help:      "Tool executions by tool, source and status.",
			}, []string{"tool", "source", "status"}),
			toolExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_execution_duration_seconds",
				Help:      "Tool execution duration by source.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"source"}),
			operatorActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operator_actions_total",
				Help:      "Operator actions by backend, action type and status.",
			}, []string{"backend", "action", "status"}),
			eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_appended_total",
				Help:      "Events appended to session streams by type.",
			}, []string{"type"}),
			mcpConnects: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mcp_connects_total",
				Help:      "MCP server connection attempts by server and status.",
			}, []string{"server", "status"}),
			storeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_operations_total",
				Help:      "Event store operations by store kind, operation and status.",
			}, []string{"store", "op", "status"}),
			storeOpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_operation_duration_seconds",
				Help:      "Event store operation latency.",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			}, []string{"store", "op"}),
			gatewayClients: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "gateway_clients",
				Help:      "Connected websocket clients.",
			}),
			gatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_requests_total",
				Help:      "Gateway RPC requests by method and status.",
			}, []string{"method", "status"}),
		}

		prometheus.MustRegister(
			m.activeSessions,
			m.runsTotal,
			m.runDuration,
			m.phaseDuration,
			m.phaseFailures,
			m.modelCallsTotal,
			m.modelCallDuration,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.operatorActionsTotal,
			m.eventsAppended,
			m.mcpConnects,
			m.storeOps,
			m.storeOpDuration,
			m.gatewayClients,
			m.gatewayRequests,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func SessionStarted() {
	getMetrics().activeSessions.Inc()
}

// RecordRunFinished records a terminal run and releases its active slot.
func RecordRunFinished(runStatus string, duration time.Duration) {
	m := getMetrics()
	m.activeSessions.Dec()
	m.runsTotal.WithLabelValues(runStatus).Inc()
	m.runDuration.Observe(duration.Seconds())
}

func RecordPhase(phase string, duration time.Duration, success bool) {
	m := getMetrics()
	m.phaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
	if !success {
		m.phaseFailures.WithLabelValues(phase).Inc()
	}
}

func RecordModelCall(provider, kind string, duration time.Duration, success bool) {
	m := getMetrics()
	m.modelCallsTotal.WithLabelValues(provider, kind, status(success)).Inc()
	m.modelCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordToolExecution(tool, source string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, source, status(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(source).Observe(duration.Seconds())
}

func RecordOperatorAction(backend, action string, success bool) {
	getMetrics().operatorActionsTotal.WithLabelValues(backend, action, status(success)).Inc()
}

func RecordEvent(eventType string) {
	getMetrics().eventsAppended.WithLabelValues(eventType).Inc()
}

func RecordMCPConnect(server string, success bool) {
	getMetrics().mcpConnects.WithLabelValues(server, status(success)).Inc()
}

func RecordStoreOp(store, op string, duration time.Duration, success bool) {
	m := getMetrics()
	m.storeOps.WithLabelValues(store, op, status(success)).Inc()
	m.storeOpDuration.WithLabelValues(store, op).Observe(duration.Seconds())
}

func SetGatewayClients(n int) {
	getMetrics().gatewayClients.Set(float64(n))
}

func RecordGatewayRequest(method string, success bool) {
	getMetrics().gatewayRequests.WithLabelValues(method, status(success)).Inc()
}
