package monitor

import (
	"io"
	"net/http/httptest"
	"testing"

	"QrScanServer/scheduler"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	stats := scheduler.Stats{Submitted: 7, Superseded: 3, Dispatched: 4, Succeeded: 3, Failed: 1, CodesRead: 2, State: "detecting"}
	require.NoError(t, m.RegisterScheduler(func() scheduler.Stats { return stats }))
	assert.Error(t, m.RegisterScheduler(func() scheduler.Stats { return stats }), "duplicate registration")

	m.GRPCTotal.Inc()
	m.CheckProcessInfo()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.GRPCTotal))
	assert.Greater(t, testutil.ToFloat64(m.memUsage), float64(0))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, "qrscan_frames_submitted_total 7")
	assert.Contains(t, text, "qrscan_frames_superseded_total 3")
	assert.Contains(t, text, "qrscan_codes_read_total 2")
	assert.Contains(t, text, "qrscan_inflight 1")
	assert.Contains(t, text, "grpc_requests_total 1")
}
