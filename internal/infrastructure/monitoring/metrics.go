package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "termlink"

// Metrics holds all Prometheus metrics. Every Record/Inc method is safe to
// call on a nil *Metrics, so components can treat metrics as optional.
type Metrics struct {
	registry *prometheus.Registry

	// Connection metrics
	ConnectAttempts *prometheus.CounterVec
	Acquisitions    *prometheus.CounterVec
	ConnectionsLive prometheus.Gauge
	RPCCalls        *prometheus.CounterVec
	RPCDuration     *prometheus.HistogramVec
	DroppedFrames   prometheus.Counter

	// Session metrics
	Validations *prometheus.CounterVec
	Refreshes   *prometheus.CounterVec
	Resolutions *prometheus.CounterVec

	// Command metrics
	Commands        *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	Fallbacks       *prometheus.CounterVec
	SentinelPolls   prometheus.Histogram

	// Bridge metrics
	BridgeTasks *prometheus.CounterVec

	// Control-plane server metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec
	HTTPRequests  *prometheus.CounterVec

	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds running totals for the end-of-run debug summary
type Snapshot struct {
	ConnectAttempts int64
	RPCCalls        int64
	RPCErrors       int64
	Refreshes       int64
	Commands        int64
	Fallbacks       int64
	TotalCommandSec float64
}

// NewMetrics creates a metrics set on its own registry. A private registry
// keeps tests and multiple clients in one process from colliding.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ConnectAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connect_attempts_total",
				Help:      "Control-plane connection attempts by outcome",
			},
			[]string{"outcome"},
		),
		Acquisitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "acquisitions_total",
				Help:      "Connection acquisitions by result",
			},
			[]string{"result"},
		),
		ConnectionsLive: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connections_live",
				Help:      "Number of live control-plane connections",
			},
		),
		RPCCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rpc_calls_total",
				Help:      "Control-plane RPC calls",
			},
			[]string{"method", "status"},
		),
		RPCDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rpc_duration_seconds",
				Help:      "Control-plane RPC latency in seconds",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method"},
		),
		DroppedFrames: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dropped_frames_total",
				Help:      "Inbound frames that matched no waiter",
			},
		),

		Validations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validations_total",
				Help:      "Session handle validations by result",
			},
			[]string{"result"},
		),
		Refreshes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refreshes_total",
				Help:      "Session handle refreshes by result",
			},
			[]string{"result"},
		),
		Resolutions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_total",
				Help:      "Session resolutions by how the session was found",
			},
			[]string{"how"},
		),

		Commands: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Executed commands by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		CommandDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_duration_seconds",
				Help:      "Command execution time in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"strategy"},
		),
		Fallbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "strategy_fallbacks_total",
				Help:      "Structured to sentinel fallbacks by reason",
			},
			[]string{"reason"},
		),
		SentinelPolls: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sentinel_polls",
				Help:      "Tail probes needed before the end marker appeared",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
		),

		BridgeTasks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bridge_tasks_total",
				Help:      "Tasks run on the client loop by how they were submitted",
			},
			[]string{"mode"},
		),

		WSConnections: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "server_ws_connections",
				Help:      "Number of active control-plane websocket connections",
			},
		),
		WSMessages: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "server_ws_messages_total",
				Help:      "Control-plane websocket messages",
			},
			[]string{"direction", "type"},
		),
		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "server_http_requests_total",
				Help:      "HTTP requests served by the control-plane server",
			},
			[]string{"path", "status"},
		),
	}
}

// Registry returns the registry the metrics live on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordConnectAttempt records one transport dial
func (m *Metrics) RecordConnectAttempt(outcome string) {
	if m == nil {
		return
	}
	m.ConnectAttempts.WithLabelValues(outcome).Inc()
	m.mu.Lock()
	m.snapshot.ConnectAttempts++
	m.mu.Unlock()
}

// RecordAcquisition records the result of Supervisor.Acquire
func (m *Metrics) RecordAcquisition(result string) {
	if m == nil {
		return
	}
	m.Acquisitions.WithLabelValues(result).Inc()
}

// ConnectionOpened and ConnectionClosed track live connections
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ConnectionsLive.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ConnectionsLive.Dec()
}

// RecordRPC records one request/response round trip
func (m *Metrics) RecordRPC(method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RPCCalls.WithLabelValues(method, status).Inc()
	m.RPCDuration.WithLabelValues(method).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.RPCCalls++
	if status != "ok" {
		m.snapshot.RPCErrors++
	}
	m.mu.Unlock()
}

// IncDroppedFrames counts an unsolicited inbound frame
func (m *Metrics) IncDroppedFrames() {
	if m == nil {
		return
	}
	m.DroppedFrames.Inc()
}

// RecordValidation records a Validated() outcome
func (m *Metrics) RecordValidation(valid bool) {
	if m == nil {
		return
	}
	m.Validations.WithLabelValues(boolLabel(valid, "valid", "invalid")).Inc()
}

// RecordRefresh records a handle refresh
func (m *Metrics) RecordRefresh(err error) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(boolLabel(err == nil, "ok", "error")).Inc()
	m.mu.Lock()
	m.snapshot.Refreshes++
	m.mu.Unlock()
}

// RecordResolution records how the resolver found its session
func (m *Metrics) RecordResolution(how string) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(how).Inc()
}

// RecordCommand records a finished command
func (m *Metrics) RecordCommand(strategy, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(strategy, outcome).Inc()
	m.CommandDuration.WithLabelValues(strategy).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.Commands++
	m.snapshot.TotalCommandSec += duration.Seconds()
	m.mu.Unlock()
}

// RecordFallback records a structured to sentinel fallback
func (m *Metrics) RecordFallback(reason string) {
	if m == nil {
		return
	}
	m.Fallbacks.WithLabelValues(reason).Inc()
	m.mu.Lock()
	m.snapshot.Fallbacks++
	m.mu.Unlock()
}

// ObserveSentinelPolls records how many tail probes a command needed
func (m *Metrics) ObserveSentinelPolls(n int) {
	if m == nil {
		return
	}
	m.SentinelPolls.Observe(float64(n))
}

// RecordBridgeTask records a task submitted to the client loop
func (m *Metrics) RecordBridgeTask(mode string) {
	if m == nil {
		return
	}
	m.BridgeTasks.WithLabelValues(mode).Inc()
}

// RecordWSMessage records a server-side websocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments server websocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements server websocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

// Snapshot returns a copy of the running totals
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

func boolLabel(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
