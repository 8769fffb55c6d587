package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.ObserveFetch(OutcomeSuccess, 120*time.Millisecond)
	r.ObserveFetch("server_error", time.Second)
	r.ObserveFetch("server_error", time.Second)
	r.RetryScheduled()
	r.Reauthenticated()
	r.Notified()
	r.SetUtilization("five_hour", 91)
	r.SetNetworkAvailable(true)
	r.SetLastSuccess(time.Unix(1700000000, 0))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.fetchTotal.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.fetchTotal.WithLabelValues("server_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.retriesScheduled))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.reauthTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.notifications))
	assert.Equal(t, 91.0, testutil.ToFloat64(r.utilization.WithLabelValues("five_hour")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.networkAvailable))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(r.lastSuccess))

	r.ClearUtilization("five_hour")
	assert.Equal(t, 0, testutil.CollectAndCount(r.utilization))

	count, err := testutil.GatherAndCount(reg, "usagebar_fetch_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ObserveFetch(OutcomeSuccess, time.Second)
		r.RetryScheduled()
		r.Reauthenticated()
		r.Notified()
		r.SetUtilization("five_hour", 1)
		r.ClearUtilization("five_hour")
		r.SetNetworkAvailable(false)
		r.SetLastSuccess(time.Now())
	})
}
