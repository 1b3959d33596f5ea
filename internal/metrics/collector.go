// Package metrics records runner activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jward/paddock/internal/runner"
)

var _ runner.Recorder = (*Collector)(nil)

// Collector implements runner.Recorder using Prometheus. Each Collector
// owns its registry so several engines can run in one process.
type Collector struct {
	registry *prometheus.Registry

	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsFailed    *prometheus.CounterVec
	jobsSkipped   prometheus.Counter
	jobDuration   *prometheus.HistogramVec
	workersBusy   prometheus.Gauge
	workersIdle   prometheus.Gauge
	queueDepth    prometheus.Gauge
}

// NewCollector creates a collector with a fresh registry that also carries
// the Go runtime and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		jobsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "paddock_jobs_started_total",
			Help: "Total number of simulation jobs started",
		}),
		jobsCompleted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paddock_jobs_completed_total",
				Help: "Total number of simulation jobs completed",
			},
			[]string{"status"},
		),
		jobsFailed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paddock_jobs_failed_total",
				Help: "Total number of failed simulation jobs by failure kind",
			},
			[]string{"kind"},
		),
		jobsSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "paddock_jobs_skipped_total",
			Help: "Total number of jobs skipped after a stop",
		}),
		jobDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "paddock_job_duration_seconds",
				Help:    "Simulation job duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"status"},
		),
		workersBusy: f.NewGauge(prometheus.GaugeOpts{
			Name: "paddock_worker_pool_busy",
			Help: "Number of busy workers",
		}),
		workersIdle: f.NewGauge(prometheus.GaugeOpts{
			Name: "paddock_worker_pool_idle",
			Help: "Number of idle workers",
		}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "paddock_queue_depth",
			Help: "Jobs not yet started",
		}),
	}
}

// Registry returns the registry the collector's metrics live in.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) JobStarted() { c.jobsStarted.Inc() }

func (c *Collector) JobFinished(success bool, kind string, elapsed time.Duration) {
	status := "success"
	if !success {
		status = "failure"
		c.jobsFailed.WithLabelValues(kind).Inc()
	}
	c.jobsCompleted.WithLabelValues(status).Inc()
	c.jobDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

func (c *Collector) JobSkipped() { c.jobsSkipped.Inc() }

func (c *Collector) WorkerPoolStatus(busy, idle int) {
	c.workersBusy.Set(float64(busy))
	c.workersIdle.Set(float64(idle))
}

func (c *Collector) QueueDepth(n int) { c.queueDepth.Set(float64(n)) }
