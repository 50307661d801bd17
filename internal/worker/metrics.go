package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry             *prometheus.Registry
	jobsTotal            *prometheus.CounterVec
	jobDuration          *prometheus.HistogramVec
	activeJobs           prometheus.Gauge
	fallbacksTotal       prometheus.Counter
	webhookFailuresTotal prometheus.Counter
	pixelsProcessedTotal prometheus.Counter
	aiCallsTotal         prometheus.Counter
	computeTimeMSTotal   prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitroom_worker_jobs_total",
			Help: "Total try-on jobs by source type and final status.",
		}, []string{"source_type", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fitroom_worker_job_duration_seconds",
			Help:    "Total processing duration for each try-on job.",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}, []string{"source_type", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fitroom_worker_active_jobs",
			Help: "Current number of try-on jobs being processed.",
		}),
		fallbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fitroom_worker_fallbacks_total",
			Help: "Completed jobs that produced a fallback composite.",
		}),
		webhookFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fitroom_worker_webhook_failures_total",
			Help: "Webhook notifications that could not be delivered.",
		}),
		pixelsProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fitroom_usage_pixels_processed_total",
			Help: "Total input pixels processed across completed jobs.",
		}),
		aiCallsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fitroom_usage_ai_calls_total",
			Help: "Total model requests made by completed jobs.",
		}),
		computeTimeMSTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fitroom_usage_compute_time_ms_total",
			Help: "Total compute time in milliseconds across completed jobs.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.fallbacksTotal,
		m.webhookFailuresTotal,
		m.pixelsProcessedTotal,
		m.aiCallsTotal,
		m.computeTimeMSTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
