// admin.go — endpoints консоли администратора: журнал входов.
package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/baymed/medlogistics/session-gateway/internal/repository"
)

// AdminHandler — обработчики консоли администратора.
type AdminHandler struct {
	audit  repository.LoginAuditRepository
	logger *slog.Logger
}

// NewAdminHandler создаёт обработчики администратора.
func NewAdminHandler(audit repository.LoginAuditRepository, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		audit:  audit,
		logger: logger.With(slog.String("component", "admin_handler")),
	}
}

// auditResponse — ответ GET /admin/audit.
type auditResponse struct {
	Records  []*repository.LoginAuditRecord `json:"records"`
	Failures int                            `json:"failures"`
}

// Audit обрабатывает GET /admin/audit: последние события входа
// и счётчик неудачных попыток. Параметр limit — 1..500, по умолчанию 50.
func (h *AdminHandler) Audit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotFound, "not_found", "audit log is not enabled")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be 1..500")
			return
		}
		limit = n
	}

	records, err := h.audit.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error("Не удалось прочитать журнал входов", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal", "internal error, retry later")
		return
	}

	failures, err := h.audit.CountByOutcome(r.Context(), repository.AuditOutcomeFailure)
	if err != nil {
		h.logger.Warn("Не удалось посчитать неудачные входы", slog.String("error", err.Error()))
	}

	writeJSON(w, http.StatusOK, auditResponse{Records: records, Failures: failures})
}
