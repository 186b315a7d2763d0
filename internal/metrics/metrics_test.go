package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.VersionAppended()
	m.VersionAppended()
	m.Reverted()
	m.Transitioned("approve")
	m.Transitioned("merge")
	m.Transitioned("approve")
	m.Conflict()
	m.ObserveRequest("GET", "/content/{id}", "200", 0.01)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.versionsAppended))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reverts))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.prTransitions.WithLabelValues("approve")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/content/{id}", "200")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.VersionAppended()
		m.Reverted()
		m.Transitioned("reject")
		m.Conflict()
		m.ObserveRequest("GET", "", "500", 1)
	})
}
