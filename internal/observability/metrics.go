package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	activeSessions prometheus.Gauge

	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec

	confirmationTotal *prometheus.CounterVec

	turnTotal      *prometheus.CounterVec
	turnIterations prometheus.Histogram
	modelCallTotal *prometheus.CounterVec
	modelDuration  *prometheus.HistogramVec

	auditAppendTotal  *prometheus.CounterVec
	auditAppendFailed *prometheus.CounterVec

	gatewayClients prometheus.Gauge
	gatewayRPC     *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "winagent_queue_size",
					Help: "Current queue size by lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "winagent_enqueue_total",
					Help: "Total enqueue operations by lane.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "winagent_dequeue_total",
					Help: "Total dequeue/completion operations by lane and status.",
				},
				[]string{"lane", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "winagent_task_duration_seconds",
					Help:    "Task execution duration in seconds by lane.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "winagent_active_sessions",
					Help: "Current active session count.",
				},
			),
			dispatchTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "winagent_tool_dispatch_total",
					Help: "Total tool dispatches by tool and decision path.",
				},
				[]string{"tool", "decision"},
			),
			dispatchDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "winagent_tool_dispatch_duration_seconds",
					Help:    "Tool dispatch duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			confirmationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "winagent_confirmation_total",
					Help: "Total confirmation requests by outcome.",
				},
				[]string{"outcome"},
			),
			turnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "winagent_turn_total",
					Help: "Total conversation turns by outcome.",
				},
				[]string{"outcome"},
			),
			turnIterations: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "winagent_turn_iterations",
					Help:    "Model round-trips per conversation turn.",
					Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 12, 16},
				},
			),
			modelCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "winagent_model_call_total",
					Help: "Total model backend calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
			modelDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "winagent_model_call_duration_seconds",
					Help:    "Model backend call duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			auditAppendTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "winagent_audit_append_total",
					Help: "Total audit records appended by decision path.",
				},
				[]string{"decision"},
			),
			auditAppendFailed: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "winagent_audit_append_failed_total",
					Help: "Total audit appends that could not be persisted, by cause.",
				},
				[]string{"cause"},
			),
			gatewayClients: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "winagent_gateway_clients",
					Help: "Current connected gateway clients.",
				},
			),
			gatewayRPC: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "winagent_gateway_rpc_total",
					Help: "Total gateway RPC requests by method and status.",
				},
				[]string{"method", "status"},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.activeSessions,
			m.dispatchTotal,
			m.dispatchDuration,
			m.confirmationTotal,
			m.turnTotal,
			m.turnIterations,
			m.modelCallTotal,
			m.modelDuration,
			m.auditAppendTotal,
			m.auditAppendFailed,
			m.gatewayClients,
			m.gatewayRPC,
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

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetQueueSize(lane string, queueSize int) {
	m := getMetrics()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.dequeueTotal.WithLabelValues(lane, status).Inc()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetActiveSessions(count int) {
	m := getMetrics()
	m.activeSessions.Set(float64(count))
}

// RecordToolDispatch counts a dispatch attempt under its audit decision path.
func RecordToolDispatch(tool, decision string, duration time.Duration) {
	m := getMetrics()
	m.dispatchTotal.WithLabelValues(tool, decision).Inc()
	m.dispatchDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordConfirmation(outcome string) {
	m := getMetrics()
	m.confirmationTotal.WithLabelValues(outcome).Inc()
}

func RecordTurn(outcome string, iterations int) {
	m := getMetrics()
	m.turnTotal.WithLabelValues(outcome).Inc()
	m.turnIterations.Observe(float64(iterations))
}

func RecordModelCall(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.modelCallTotal.WithLabelValues(provider, status).Inc()
	m.modelDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordAuditAppend(decision string) {
	m := getMetrics()
	m.auditAppendTotal.WithLabelValues(decision).Inc()
}

func RecordAuditAppendFailure(cause string) {
	m := getMetrics()
	m.auditAppendFailed.WithLabelValues(cause).Inc()
}

func SetGatewayClients(count int) {
	m := getMetrics()
	m.gatewayClients.Set(float64(count))
}

// RecordGatewayRPC counts a routed RPC request. Unknown methods are counted
// under "unknown" to keep label cardinality bounded.
func RecordGatewayRPC(method string, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.gatewayRPC.WithLabelValues(method, status).Inc()
}
