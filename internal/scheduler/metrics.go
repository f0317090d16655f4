package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the scheduler's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	jobsTotal   *prometheus.CounterVec
	running     prometheus.Gauge
	queueDepth  prometheus.Gauge
	duration    *prometheus.HistogramVec
	outputBytes prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg. Passing a
// fresh prometheus.NewRegistry() keeps parallel schedulers (and tests) apart.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "media_fetch_jobs_total",
				Help: "Jobs that reached a terminal status, by status.",
			},
			[]string{"status"},
		),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "media_fetch_running",
			Help: "Job lifecycles currently admitted.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "media_fetch_queue_depth",
			Help: "Jobs waiting in the pending queue.",
		}),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "media_fetch_job_duration_seconds",
				Help:    "Wall time from start to terminal status, by status.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"status"},
		),
		outputBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "media_fetch_output_size_bytes",
			Help: "Size of each output file recorded by a completed job.",
			Buckets: []float64{
				1 << 20,   // 1MB
				10 << 20,  // 10MB
				100 << 20, // 100MB
				500 << 20,
				1 << 30, // 1GB
				4 << 30,
			},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.jobsTotal, m.running, m.queueDepth, m.duration, m.outputBytes)
	}
	return m
}

func (m *Metrics) observeTerminal(status string, started time.Time) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(status).Inc()
	if !started.IsZero() {
		m.duration.WithLabelValues(status).Observe(time.Since(started).Seconds())
	}
}

func (m *Metrics) setLoad(running, pending int) {
	if m == nil {
		return
	}
	m.running.Set(float64(running))
	m.queueDepth.Set(float64(pending))
}

func (m *Metrics) observeOutput(size int64) {
	if m == nil {
		return
	}
	m.outputBytes.Observe(float64(size))
}
