// wards.go — список доступных отделений и фиксация выбора.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/baymed/medlogistics/session-gateway/internal/autherr"
	"github.com/baymed/medlogistics/session-gateway/internal/dispatch"
	"github.com/baymed/medlogistics/session-gateway/internal/domain/model"
	"github.com/baymed/medlogistics/session-gateway/internal/httpapi/middleware"
	"github.com/baymed/medlogistics/session-gateway/internal/repository"
	"github.com/baymed/medlogistics/session-gateway/internal/session"
	"github.com/baymed/medlogistics/session-gateway/internal/ward"
)

// WardsHandler — обработчики выбора отделения.
type WardsHandler struct {
	resolver *ward.Resolver
	registry *session.Registry
	cookies  *session.Manager
	audit    repository.LoginAuditRepository
	logger   *slog.Logger
}

// NewWardsHandler создаёт обработчики выбора отделения.
// audit может быть nil — журнал тогда не ведётся.
func NewWardsHandler(
	resolver *ward.Resolver,
	registry *session.Registry,
	cookies *session.Manager,
	audit repository.LoginAuditRepository,
	logger *slog.Logger,
) *WardsHandler {
	return &WardsHandler{
		resolver: resolver,
		registry: registry,
		cookies:  cookies,
		audit:    audit,
		logger:   logger.With(slog.String("component", "wards_handler")),
	}
}

// wardListResponse — ответ GET /wards.
type wardListResponse struct {
	Wards []model.Ward `json:"wards"`
	// Preselected — последний сохранённый выбор, если он всё ещё доступен.
	Preselected *model.Ward `json:"preselected,omitempty"`
	// NoneAvailable — терминальное состояние "нет доступных отделений".
	NoneAvailable bool   `json:"none_available,omitempty"`
	Message       string `json:"message,omitempty"`
}

// selectWardRequest — тело POST /wards/select.
type selectWardRequest struct {
	WardID string `json:"ward_id"`
}

// List обрабатывает GET /wards: загрузка списка отделений текущего
// пользователя с повторами при transient сбоях. Админ сюда не попадает —
// его маршрут минует выбор отделения.
func (h *WardsHandler) List(w http.ResponseWriter, r *http.Request) {
	store := middleware.StoreFromContext(r.Context())
	if store == nil {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	switch state := dispatch.Evaluate(store.Snapshot()); state {
	case dispatch.StateAdminLayout, dispatch.StateNoRole:
		http.Redirect(w, r, dispatch.RouteTree(state), http.StatusFound)
		return
	case dispatch.StateUnauthenticated:
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	case dispatch.StateAwaitingProfile:
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "session_loading", "session is loading, retry shortly")
		return
	}

	list, err := h.resolver.ListForSession(r.Context(), store, middleware.TokensFromContext(r.Context()))
	if err != nil {
		if autherr.IsSessionExpired(err) {
			expireSession(w, r, h.registry, h.cookies, h.audit, h.logger, middleware.CookieFromContext(r.Context()))
			return
		}
		h.logger.Warn("Список отделений не загружен", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, string(autherr.KindOf(err)), autherr.Message(err))
		return
	}

	if list.Stale {
		// Сессия изменилась, пока ответ был в полёте — клиент перезапросит
		writeError(w, http.StatusConflict, "stale", "session changed, reload")
		return
	}

	resp := wardListResponse{Wards: list.Wards, Preselected: list.Preselected}
	if len(list.Wards) == 0 {
		resp.Wards = []model.Ward{}
		resp.NoneAvailable = true
		resp.Message = "no wards available for your account, contact your administrator"
	}
	writeJSON(w, http.StatusOK, resp)
}

// Select обрабатывает POST /wards/select: проверка, что отделение
// входит в список доступных, локальный commit выбора (без повторов)
// и обновление cookie сессии.
func (h *WardsHandler) Select(w http.ResponseWriter, r *http.Request) {
	store := middleware.StoreFromContext(r.Context())
	data := middleware.CookieFromContext(r.Context())
	if store == nil || data == nil {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	var req selectWardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.WardID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "ward_id is required")
		return
	}

	wards, err := h.resolver.ListAvailableWards(r.Context(), middleware.TokensFromContext(r.Context()))
	if err != nil {
		if autherr.IsSessionExpired(err) {
			expireSession(w, r, h.registry, h.cookies, h.audit, h.logger, data)
			return
		}
		writeError(w, http.StatusBadGateway, string(autherr.KindOf(err)), autherr.Message(err))
		return
	}

	var selected *model.Ward
	for i := range wards {
		if wards[i].ID == req.WardID {
			selected = &wards[i]
			break
		}
	}
	if selected == nil {
		writeError(w, http.StatusForbidden, "ward_not_allowed", "ward is not available for your account")
		return
	}

	h.resolver.SelectWard(r.Context(), store, *selected)

	// Выбор переживает рестарт вместе с cookie
	data.Ward = selected
	if err := h.cookies.SetCookie(w, data); err != nil {
		h.logger.Error("Не удалось обновить cookie сессии", slog.String("error", err.Error()))
	}

	st := store.Snapshot()
	state := dispatch.Evaluate(st)
	writeJSON(w, http.StatusOK, sessionResponse{
		State:      state,
		RouteTree:  dispatch.RouteTree(state),
		Profile:    st.Profile,
		ActiveWard: st.ActiveWard,
	})
}
