// guard.go — route guard рабочих деревьев маршрутов.
// Проверка выполняется на каждый запрос по текущему снимку сессии,
// без кеширования решения: права могли измениться между запросами.
package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/baymed/medlogistics/session-gateway/internal/dispatch"
)

// Guard — охрана деревьев маршрутов по состоянию диспетчера.
type Guard struct {
	logger *slog.Logger
}

// NewGuard создаёт route guard.
func NewGuard(logger *slog.Logger) *Guard {
	return &Guard{logger: logger.With(slog.String("component", "route_guard"))}
}

// Require возвращает middleware, пропускающий запрос только если
// текущее состояние сессии соответствует expected.
//
// Несоответствия:
//   - сессия грузится — 503, клиент повторит позже;
//   - не аутентифицирован — redirect на /login;
//   - роль есть, отделение не выбрано — redirect на /wards;
//   - роль не соответствует дереву — 403 с телом, отличным от 401;
//   - ролей нет вовсе — redirect на /no-role.
func (g *Guard) Require(expected dispatch.State) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			store := StoreFromContext(r.Context())
			if store == nil {
				http.Redirect(w, r, "/login", http.StatusFound)
				return
			}

			st := store.Snapshot()
			state := dispatch.Evaluate(st)
			if state == expected {
				next.ServeHTTP(w, r)
				return
			}

			subject := ""
			if st.Profile != nil {
				subject = st.Profile.Subject
			}
			g.logger.Debug("Запрос отклонён route guard",
				slog.String("path", r.URL.Path),
				slog.String("state", string(state)),
				slog.String("expected", string(expected)),
				slog.String("subject", subject),
			)

			switch state {
			case dispatch.StateAwaitingProfile:
				// Сессия ещё грузится — не решение об отказе, а "позже"
				w.Header().Set("Retry-After", "1")
				writeGuardError(w, http.StatusServiceUnavailable, "session_loading",
					"session is loading, retry shortly")
			case dispatch.StateUnauthenticated:
				http.Redirect(w, r, "/login", http.StatusFound)
			case dispatch.StateAwaitingWard:
				http.Redirect(w, r, "/wards", http.StatusFound)
			case dispatch.StateNoRole:
				http.Redirect(w, r, "/no-role", http.StatusFound)
			default:
				// Аутентифицирован, но дерево не его роли.
				// Тело отличается от 401: это отказ в правах, а не потеря сессии.
				writeGuardError(w, http.StatusForbidden, "forbidden",
					"insufficient role for this section")
			}
		})
	}
}

// guardError — JSON-тело отказа route guard.
type guardError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeGuardError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(guardError{Error: code, Message: message})
}
