package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the board API.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	attachmentOps   *prometheus.CounterVec
	attachmentBytes prometheus.Counter
	orphans         *prometheus.CounterVec
	logins          *prometheus.CounterVec
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	attachmentOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attachment_operations_total",
		Help: "Attachment store operations by kind and outcome",
	}, []string{"operation", "result"})

	attachmentBytes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "attachment_bytes_written_total",
		Help: "Bytes of attachment content written",
	})

	orphans := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attachment_orphans_total",
		Help: "Attachment files left behind by failed deletes, by lifecycle event",
	}, []string{"event"})

	logins := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_login_attempts_total",
		Help: "Login attempts by outcome",
	}, []string{"result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, attachmentOps, attachmentBytes, orphans, logins, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		attachmentOps:   attachmentOps,
		attachmentBytes: attachmentBytes,
		orphans:         orphans,
		logins:          logins,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordAttachmentOp counts an attachment store operation.
func (m *MetricsService) RecordAttachmentOp(operation string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.attachmentOps.WithLabelValues(operation, result).Inc()
}

// AddAttachmentBytes tracks stored attachment volume.
func (m *MetricsService) AddAttachmentBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.attachmentBytes.Add(float64(n))
}

// RecordOrphan counts orphan lifecycle events: reported, resolved, abandoned.
func (m *MetricsService) RecordOrphan(event string) {
	if m == nil {
		return
	}
	m.orphans.WithLabelValues(event).Inc()
}

// RecordLogin counts login outcomes.
func (m *MetricsService) RecordLogin(success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.logins.WithLabelValues(result).Inc()
}
