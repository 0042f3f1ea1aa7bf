// health.go — health endpoints для Kubernetes-проб.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
)

// ReadinessChecker — проверка готовности зависимости.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// HealthHandler — обработчики /health/live и /health/ready.
type HealthHandler struct {
	ready  ReadinessChecker
	logger *slog.Logger
}

// NewHealthHandler создаёт обработчики health endpoints.
// ready может быть nil — тогда readiness всегда успешна.
func NewHealthHandler(ready ReadinessChecker, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		ready:  ready,
		logger: logger.With(slog.String("component", "health")),
	}
}

// Live обрабатывает GET /health/live: процесс жив.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready обрабатывает GET /health/ready: готовность зависимостей (PostgreSQL).
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready.Ready(r.Context()); err != nil {
			h.logger.Warn("Readiness-проба не прошла", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"reason": "database",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
