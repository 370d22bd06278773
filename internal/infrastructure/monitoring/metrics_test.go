package monitoring

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordConnectAttempt("ok")
		m.RecordRPC("read_lines", "ok", time.Millisecond)
		m.RecordCommand("sentinel", "ok", time.Second)
		m.RecordFallback("timeout")
		m.RecordValidation(true)
		m.RecordRefresh(nil)
		m.IncDroppedFrames()
	})
	assert.Equal(t, Snapshot{}, m.Snapshot())
}

func TestRecordersUpdateCountersAndSnapshot(t *testing.T) {
	m := NewMetrics()

	m.RecordConnectAttempt("refused")
	m.RecordConnectAttempt("refused")
	m.RecordConnectAttempt("ok")
	m.RecordRPC("send_text", "ok", time.Millisecond)
	m.RecordRPC("send_text", "error", time.Millisecond)
	m.RecordCommand("structured", "ok", 2*time.Second)
	m.RecordCommand("sentinel", "ok", 4*time.Second)
	m.RecordFallback("no_prompt")
	m.RecordRefresh(errors.New("gone"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConnectAttempts.WithLabelValues("refused")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Fallbacks.WithLabelValues("no_prompt")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Refreshes.WithLabelValues("error")))

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.ConnectAttempts)
	assert.Equal(t, int64(2), snap.RPCCalls)
	assert.Equal(t, int64(1), snap.RPCErrors)
	assert.Equal(t, int64(2), snap.Commands)
	assert.InDelta(t, 6.0, snap.TotalCommandSec, 1e-9)
	assert.Len(t, snap.Fields(), 7)
}

func TestSeparateRegistries(t *testing.T) {
	a, b := NewMetrics(), NewMetrics()
	a.RecordFallback("timeout")

	assert.Equal(t, 1.0, testutil.ToFloat64(a.Fallbacks.WithLabelValues("timeout")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Fallbacks.WithLabelValues("timeout")))
}

func TestHandlerAndMiddleware(t *testing.T) {
	m := NewMetrics()
	m.RecordCommand("sentinel", "ok", time.Second)

	srv := httptest.NewServer(Middleware(m, m.Handler()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "termlink_commands_total"))
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/metrics", "200")) == 1.0
	}, time.Second, 10*time.Millisecond)
}
