package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)

	pr.IncApply(ResultSuccess)
	pr.IncApply(ResultSuccess)
	pr.IncApply(ResultRejected)
	pr.ObserveApplyDuration(20 * time.Millisecond)
	pr.IncRestore(TriggerWatchdog, ResultSuccess)
	pr.IncRestore(TriggerReset, ResultPartial)
	pr.IncSoftFailure("epp")
	pr.IncWatchdogStarted()
	pr.SetActivePIDs(3)

	assert.InDelta(t, 2, testutil.ToFloat64(pr.applies.WithLabelValues("success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(pr.restores.WithLabelValues("reset", "partial")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(pr.softFailures.WithLabelValues("epp")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(pr.activePIDs), 0)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, mfs, 6)
}

func TestPrometheusRecorder_NilSafe(t *testing.T) {
	var pr *PrometheusRecorder
	pr.IncApply(ResultFailed)
	pr.SetActivePIDs(1)
	pr.IncWatchdogStarted()
}

func TestHTTPHandler(t *testing.T) {
	reg := prom.NewRegistry()
	NewPrometheusRecorder(reg).SetActivePIDs(2)

	srv := httptest.NewServer(HTTPHandler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "nvprime_active_pids 2")
}

var _ Recorder = NoopRecorder{}
var _ Recorder = (*PrometheusRecorder)(nil)
