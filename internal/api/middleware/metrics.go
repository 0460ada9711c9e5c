// metrics.go — Prometheus HTTP метрики Quote Module.
// Регистрирует метрики: qt_http_requests_total, qt_http_request_duration_seconds.
// Нормализация путей предотвращает взрывной рост кардинальности.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики Quote Module
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qt_http_requests_total",
			Help: "Общее количество HTTP-запросов к Quote Module",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qt_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Quote Module в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
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

// Flush пробрасывает Flush для потоковой отдачи объектов.
func (rw *metricsResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// normalizePath сворачивает пути объектов и идентификаторы в шаблоны:
//
//	/objects/uploads/<uuid>             → /objects/{path}
//	/public-objects/logo.svg            → /public-objects/{path}
//	/api/quotes/<uuid>/files/<uuid>     → /api/quotes/{id}/files/{id}
//	/api/admin/access-groups/vip/members/u1 → /api/admin/access-groups/{groupID}/members/{userID}
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/objects/"):
		return "/objects/{path}"
	case strings.HasPrefix(path, "/public-objects/"):
		return "/public-objects/{path}"
	case strings.HasPrefix(path, "/api/admin/access-groups/"):
		rest := strings.TrimPrefix(path, "/api/admin/access-groups/")
		if _, member, ok := strings.Cut(rest, "/members"); ok {
			if member == "" {
				return "/api/admin/access-groups/{groupID}/members"
			}
			return "/api/admin/access-groups/{groupID}/members/{userID}"
		}
		return "/api/admin/access-groups/{groupID}"
	}

	segments := strings.Split(path, "/")
	for i, s := range segments {
		if _, err := uuid.Parse(s); err == nil && len(s) == 36 {
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}
