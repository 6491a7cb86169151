// Package metrics holds the Prometheus collectors for the HTTP surface and
// the kit pipeline. A nil *Metrics is valid and records nothing.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kitstudio"

// Metrics bundles every collector registered by the application.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	pipelineFiles  *prometheus.CounterVec
	pipelineAborts prometheus.Counter
	renames        *prometheus.CounterVec
	exportFiles    *prometheus.CounterVec
	revision       prometheus.Gauge
}

// New creates a registry with the process and Go collectors plus the
// application collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "http", Name: "inflight_requests",
			Help: "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"method", "route"}),
		pipelineFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "files_total",
			Help: "Files processed by the upload pipeline by outcome.",
		}, []string{"outcome"}),
		pipelineAborts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "rate_limit_aborts_total",
			Help: "Batches aborted because the model rate limited.",
		}),
		renames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "renames_total",
			Help: "Creative renames by outcome.",
		}, []string{"outcome"}),
		exportFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "export", Name: "files_total",
			Help: "Files written to kit archives by outcome.",
		}, []string{"outcome"}),
		revision: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "document", Name: "revision",
			Help: "Revision of the last committed application document.",
		}),
	}
	m.registry.MustRegister(
		m.httpInFlight, m.httpRequests, m.httpDuration,
		m.pipelineFiles, m.pipelineAborts, m.renames, m.exportFiles, m.revision,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an HTTP handler exposing the registered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency labelled by the mux route template.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		route := routeTemplate(r)
		method := strings.ToUpper(r.Method)
		m.httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

// PipelineFile counts one processed upload ("uploaded", "failed", "skipped").
func (m *Metrics) PipelineFile(outcome string) {
	if m == nil {
		return
	}
	m.pipelineFiles.WithLabelValues(outcome).Inc()
}

// PipelineAbort counts a batch aborted on rate limiting.
func (m *Metrics) PipelineAbort() {
	if m == nil {
		return
	}
	m.pipelineAborts.Inc()
}

// Rename counts a creative rename ("named", "fallback").
func (m *Metrics) Rename(outcome string) {
	if m == nil {
		return
	}
	m.renames.WithLabelValues(outcome).Inc()
}

// ExportFile counts a kit archive entry ("written", "failed").
func (m *Metrics) ExportFile(outcome string) {
	if m == nil {
		return
	}
	m.exportFiles.WithLabelValues(outcome).Inc()
}

// DocumentRevision records the latest committed revision.
func (m *Metrics) DocumentRevision(rev uint64) {
	if m == nil {
		return
	}
	m.revision.Set(float64(rev))
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack passes through to the underlying writer for websocket upgrades.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
