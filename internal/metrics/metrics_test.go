package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetReturnsSingleton(t *testing.T) {
	m1 := Get()
	m2 := Get()
	require.NotNil(t, m1)
	assert.Same(t, m1, m2)
}

func TestRecordHTTPRequestIncrementsCounter(t *testing.T) {
	m := Get()
	before := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("/execute/", "POST", "2xx"))
	m.RecordHTTPRequest("/execute/", "POST", 200, 10*time.Millisecond)
	after := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("/execute/", "POST", "2xx"))
	assert.Equal(t, before+1, after)
}

func TestRecordExecutionIncrementsCounter(t *testing.T) {
	m := Get()
	before := testutil.ToFloat64(m.ExecutionsTotal.WithLabelValues("success"))
	m.RecordExecution("success", 50*time.Millisecond)
	after := testutil.ToFloat64(m.ExecutionsTotal.WithLabelValues("success"))
	assert.Equal(t, before+1, after)
}

func TestSetPoolGauges(t *testing.T) {
	m := Get()
	m.SetPoolGauges(3, 20)
	assert.Equal(t, float64(3), testutil.ToFloat64(m.PoolAvailable))
	assert.Equal(t, float64(20), testutil.ToFloat64(m.PoolSize))
}

func TestStatusCodeToLabel(t *testing.T) {
	cases := map[int]string{
		200: "2xx",
		301: "3xx",
		404: "4xx",
		500: "5xx",
		0:   "unknown",
	}
	for code, want := range cases {
		assert.Equal(t, want, statusCodeToLabel(code))
	}
}
