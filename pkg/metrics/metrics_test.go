package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ConnectionIngested()
	m.ConnectionIngested()
	m.GetOrCreate("url", ResultCreated)
	m.GetOrCreate("url", ResultConflict)
	m.GetOrCreate("url", ResultConflict)
	m.BlobWrite(true)
	m.BlobWrite(false)
	m.Wipe()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConnectionsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GetOrCreateTotal.WithLabelValues("url", ResultCreated)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.GetOrCreateTotal.WithLabelValues("url", ResultConflict)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BlobWritesTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WipesTotal))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ConnectionIngested()
		m.GetOrCreate("sample", ResultExisting)
		m.BlobWrite(true)
		m.Wipe()
	})
}

func TestNew_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
