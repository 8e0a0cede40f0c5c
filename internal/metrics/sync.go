package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reconciliation outcomes recorded by the sync engine.
const (
	SyncCreated     = "created"     // record registered for the first time
	SyncResurrected = "resurrected" // DELETED record flipped back to ACTIVE
	SyncRetired     = "retired"     // ACTIVE record marked DELETED
	SyncUnchanged   = "unchanged"   // record already matched the filesystem
)

// SyncMetrics observes filesystem reconciliation outcomes.
type SyncMetrics interface {
	// RecordImage records the outcome of reconciling one file path.
	RecordImage(outcome string)

	// RecordFolder records the outcome of reconciling one directory path.
	RecordFolder(outcome string)
}

type syncMetrics struct {
	outcomes *prometheus.CounterVec
}

// NewSyncMetrics creates Prometheus-backed sync metrics, or a no-op
// implementation when the registry is not initialized.
func NewSyncMetrics() SyncMetrics {
	if !IsEnabled() {
		return noopSyncMetrics{}
	}

	reg := GetRegistry()

	return &syncMetrics{
		outcomes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pictor_sync_outcomes_total",
				Help: "Reconciliation outcomes by entity and outcome",
			},
			[]string{"entity", "outcome"},
		),
	}
}

func (m *syncMetrics) RecordImage(outcome string) {
	m.outcomes.WithLabelValues("image", outcome).Inc()
}

func (m *syncMetrics) RecordFolder(outcome string) {
	m.outcomes.WithLabelValues("folder", outcome).Inc()
}

type noopSyncMetrics struct{}

func (noopSyncMetrics) RecordImage(string)  {}
func (noopSyncMetrics) RecordFolder(string) {}
