package monitoring

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler exposes the metrics registry in Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Fields renders the snapshot as zap fields for a one-line summary
func (s Snapshot) Fields() []zap.Field {
	avg := 0.0
	if s.Commands > 0 {
		avg = s.TotalCommandSec / float64(s.Commands)
	}
	return []zap.Field{
		zap.Int64("connect_attempts", s.ConnectAttempts),
		zap.Int64("rpc_calls", s.RPCCalls),
		zap.Int64("rpc_errors", s.RPCErrors),
		zap.Int64("refreshes", s.Refreshes),
		zap.Int64("commands", s.Commands),
		zap.Int64("fallbacks", s.Fallbacks),
		zap.Float64("avg_command_seconds", avg),
	}
}

// Middleware counts HTTP requests served by the control-plane server
func Middleware(m *Metrics, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.HTTPRequests.WithLabelValues(r.URL.Path, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack passes through to the underlying writer for websocket upgrades
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
