// metrics.go — Prometheus HTTP метрики Session Gateway.
// Регистрирует метрики: sg_http_requests_total, sg_http_request_duration_seconds,
// sg_logins_total, sg_active_sessions.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sg_http_requests_total",
			Help: "Общее количество HTTP-запросов к Session Gateway",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sg_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Session Gateway в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// loginsTotal — попытки входа по провайдеру и исходу.
	loginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sg_logins_total",
			Help: "Попытки входа по провайдеру (redirect/password) и исходу",
		},
		[]string{"provider", "outcome"},
	)
)

// ObserveLogin фиксирует попытку входа в метриках.
func ObserveLogin(provider, outcome string) {
	loginsTotal.WithLabelValues(provider, outcome).Inc()
}

// RegisterActiveSessions регистрирует gauge числа активных сессий.
// count опрашивается при каждом scrape.
func RegisterActiveSessions(count func() int) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "sg_active_sessions",
		Help: "Количество активных сессий в Registry",
	}, func() float64 {
		return float64(count())
	})
}

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Нормализуем путь для лейблов метрик
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// normalizePath схлопывает динамические сегменты пути в лейблах метрик,
// чтобы кардинальность не росла с числом отделений.
func normalizePath(path string) string {
	switch path {
	case "/health/live", "/health/ready", "/metrics",
		"/login", "/callback", "/logout",
		"/session", "/wards", "/wards/select":
		return path
	}

	// Рабочие деревья layout'ов — схлопываем до корня дерева
	for _, root := range []string{"/doctor", "/pharmacist", "/nurse", "/admin", "/no-role"} {
		if path == root || strings.HasPrefix(path, root+"/") {
			return root
		}
	}

	return path
}
