package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP
// surface and the SMS dispatch pipeline.
type MetricsService struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	messagesTotal    *prometheus.CounterVec
	creditBalance    prometheus.Gauge
}

// NewMetricsService registers the core Prometheus collectors.
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

	dispatchTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sms_dispatch_total",
		Help: "Total number of SMS dispatch operations",
	}, []string{"kind"})

	dispatchDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sms_dispatch_duration_seconds",
		Help:    "End-to-end duration of SMS dispatch operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	messagesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sms_messages_total",
		Help: "Per-recipient send attempts by terminal status",
	}, []string{"status"})

	creditBalance := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sms_credit_balance",
		Help: "Last observed gateway credit balance",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, dispatchTotal, dispatchDuration, messagesTotal, creditBalance, goroutines)

	return &MetricsService{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		dispatchTotal:    dispatchTotal,
		dispatchDuration: dispatchDuration,
		messagesTotal:    messagesTotal,
		creditBalance:    creditBalance,
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

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveDispatch records one dispatch operation of the given kind.
func (m *MetricsService) ObserveDispatch(kind string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(kind).Inc()
	m.dispatchDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordMessages counts per-recipient attempts by terminal status.
func (m *MetricsService) RecordMessages(status string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.messagesTotal.WithLabelValues(status).Add(float64(count))
}

// SetCreditBalance updates the credit balance gauge.
func (m *MetricsService) SetCreditBalance(balance float64) {
	if m == nil {
		return
	}
	m.creditBalance.Set(balance)
}
