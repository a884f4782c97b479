package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Get-or-create outcomes.
const (
	ResultExisting = "existing"
	ResultCreated  = "created"
	ResultConflict = "conflict"
	// ResultCached means the id came from the in-process cache without a read.
	ResultCached   = "cached"
)

// Metrics holds the collectors of the persistence core. A nil *Metrics is valid
// and records nothing, which keeps tests free of registry setup.
type Metrics struct {
	ConnectionsTotal prometheus.Counter
	GetOrCreateTotal *prometheus.CounterVec
	BlobWritesTotal  *prometheus.CounterVec
	WipesTotal       prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sting_connections_ingested_total",
			Help: "connections inserted",
		}),
		GetOrCreateTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sting_get_or_create_total",
			Help: "get-or-create calls by entity and outcome",
		}, []string{"entity", "result"}),
		BlobWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sting_blob_writes_total",
			Help: "sample payload writes by status",
		}, []string{"status"}),
		WipesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sting_bulk_wipes_total",
			Help: "bulk wipes executed",
		}),
	}
	reg.MustRegister(m.ConnectionsTotal, m.GetOrCreateTotal, m.BlobWritesTotal, m.WipesTotal)
	return m
}

// ConnectionIngested counts one inserted connection.
func (m *Metrics) ConnectionIngested() {
	if m == nil {
		return
	}
	m.ConnectionsTotal.Inc()
}

// GetOrCreate counts one get-or-create outcome for entity.
func (m *Metrics) GetOrCreate(entity, result string) {
	if m == nil {
		return
	}
	m.GetOrCreateTotal.WithLabelValues(entity, result).Inc()
}

// BlobWrite counts a payload write; ok is false when the blob store failed.
func (m *Metrics) BlobWrite(ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.BlobWritesTotal.WithLabelValues(status).Inc()
}

// Wipe counts one bulk wipe.
func (m *Metrics) Wipe() {
	if m == nil {
		return
	}
	m.WipesTotal.Inc()
}
