// handlers.go — общие помощники обработчиков: JSON-ответы,
// завершение истёкшей сессии.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/baymed/medlogistics/session-gateway/internal/repository"
	"github.com/baymed/medlogistics/session-gateway/internal/session"
)

// errorResponse — JSON-тело ошибки.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// contextWithTimeout ограничивает контекст запроса таймаутом.
func contextWithTimeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}

// expireSession завершает сессию после 401 от backend: ровно один
// ClearSession (Registry.Delete идемпотентен), очистка cookie, запись
// в журнал и 401 с указанием на повторный вход. Запрос не повторяется.
func expireSession(
	w http.ResponseWriter,
	r *http.Request,
	registry *session.Registry,
	cookies *session.Manager,
	audit repository.LoginAuditRepository,
	logger *slog.Logger,
	data *session.CookieData,
) {
	if data != nil {
		registry.Delete(data.SessionID)
		recordExpiry(r, audit, logger, data.Subject)
	}
	cookies.ClearCookie(w)
	writeJSON(w, http.StatusUnauthorized, map[string]string{
		"error":    "session_expired",
		"message":  "session expired, please log in",
		"redirect": "/login",
	})
}

// recordExpiry пишет завершение сессии по 401 в журнал входов.
// Сбой журнала не мешает завершению сессии.
func recordExpiry(r *http.Request, audit repository.LoginAuditRepository, logger *slog.Logger, subject string) {
	if audit == nil {
		return
	}

	remote := r.RemoteAddr
	if host, _, err := net.SplitHostPort(remote); err == nil {
		remote = host
	}

	ctx, cancel := contextWithTimeout(r, 3*time.Second)
	defer cancel()
	if err := audit.Insert(ctx, &repository.LoginAuditRecord{
		UserSubject: subject,
		Outcome:     repository.AuditOutcomeExpired,
		RemoteAddr:  remote,
	}); err != nil {
		logger.Warn("Не удалось записать завершение сессии в журнал",
			slog.String("subject", subject),
			slog.String("error", err.Error()),
		)
	}
}
