package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// QueueMetrics observes background task activity.
type QueueMetrics interface {
	// RecordEnqueue records a task submission. deduped marks submissions
	// that matched an already pending or running task.
	RecordEnqueue(task string, deduped bool)

	// RecordRun records a completed task run with its duration.
	RecordRun(task string, duration time.Duration, err error)

	// SetPending updates the number of tasks waiting to run.
	SetPending(count int)
}

type queueMetrics struct {
	enqueues *prometheus.CounterVec
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	pending  prometheus.Gauge
}

// NewQueueMetrics creates Prometheus-backed queue metrics, or a no-op
// implementation when the registry is not initialized.
func NewQueueMetrics() QueueMetrics {
	if !IsEnabled() {
		return noopQueueMetrics{}
	}

	reg := GetRegistry()

	return &queueMetrics{
		enqueues: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pictor_task_enqueues_total",
				Help: "Task submissions by task name and result",
			},
			[]string{"task", "result"},
		),
		runs: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pictor_task_runs_total",
				Help: "Task runs by task name and status",
			},
			[]string{"task", "status"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pictor_task_duration_seconds",
				Help:    "Duration of task runs in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"task"},
		),
		pending: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "pictor_tasks_pending",
				Help: "Tasks waiting to run",
			},
		),
	}
}

func (m *queueMetrics) RecordEnqueue(task string, deduped bool) {
	result := "scheduled"
	if deduped {
		result = "deduplicated"
	}
	m.enqueues.WithLabelValues(task, result).Inc()
}

func (m *queueMetrics) RecordRun(task string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.runs.WithLabelValues(task, status).Inc()
	m.duration.WithLabelValues(task).Observe(duration.Seconds())
}

func (m *queueMetrics) SetPending(count int) {
	m.pending.Set(float64(count))
}

type noopQueueMetrics struct{}

func (noopQueueMetrics) RecordEnqueue(string, bool)             {}
func (noopQueueMetrics) RecordRun(string, time.Duration, error) {}
func (noopQueueMetrics) SetPending(int)                         {}
