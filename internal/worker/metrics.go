package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry             *prometheus.Registry
	rendersTotal         *prometheus.CounterVec
	renderDuration       *prometheus.HistogramVec
	activeRenders        prometheus.Gauge
	renderedSecondsTotal prometheus.Counter
	artifactBytesTotal   prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		rendersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slideflow_worker_renders_total",
			Help: "Total render jobs by final status.",
		}, []string{"status"}),
		renderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "slideflow_worker_render_duration_seconds",
			Help:    "Wall-clock duration of each render job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"status"}),
		activeRenders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "slideflow_worker_active_renders",
			Help: "Current number of in-flight renders in the worker.",
		}),
		renderedSecondsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slideflow_worker_rendered_video_seconds_total",
			Help: "Total seconds of video produced by successful renders.",
		}),
		artifactBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slideflow_worker_artifact_bytes_total",
			Help: "Total bytes of finished artifacts stored.",
		}),
	}

	registry.MustRegister(
		m.rendersTotal,
		m.renderDuration,
		m.activeRenders,
		m.renderedSecondsTotal,
		m.artifactBytesTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
