package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.MessageOutcome("persisted")
	r.MessageOutcome("persisted")
	r.MessageOutcome("failed")
	r.CycleFinished("ok", 2*time.Second)
	r.CycleSkipped()
	r.RestartRequested()
	r.TokenExpiry(time.Unix(1700000000, 0))

	assert.Equal(t, 2.0, testutil.ToFloat64(r.messages.WithLabelValues("persisted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.messages.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cycles.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.skipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.restarts))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(r.tokenExpiry))

	err := testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP orderpoll_restart_requests_total Restart requests raised by the token watchdog.
# TYPE orderpoll_restart_requests_total counter
orderpoll_restart_requests_total 1
`), "orderpoll_restart_requests_total")
	require.NoError(t, err)
}
