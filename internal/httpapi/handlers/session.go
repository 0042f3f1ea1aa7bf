// session.go — интроспекция сессии и layout-endpoint'ы рабочих деревьев.
package handlers

import (
	"net/http"

	"github.com/baymed/medlogistics/session-gateway/internal/dispatch"
	"github.com/baymed/medlogistics/session-gateway/internal/domain/model"
	"github.com/baymed/medlogistics/session-gateway/internal/httpapi/middleware"
)

// sessionIntrospection — ответ GET /session.
// SPA опрашивает его при старте и после навигации, чтобы узнать,
// какое дерево маршрутов монтировать.
type sessionIntrospection struct {
	State         dispatch.State     `json:"state"`
	RouteTree     string             `json:"route_tree"`
	Terminal      bool               `json:"terminal"`
	Authenticated bool               `json:"authenticated"`
	Loading       bool               `json:"loading"`
	LastError     string             `json:"last_error,omitempty"`
	Profile       *model.UserProfile `json:"profile,omitempty"`
	ActiveWard    *model.Ward        `json:"active_ward,omitempty"`
}

// Session обрабатывает GET /session: снимок состояния сессии
// и вычисленное состояние диспетчера. Работает и без сессии.
func Session(w http.ResponseWriter, r *http.Request) {
	store := middleware.StoreFromContext(r.Context())
	if store == nil {
		writeJSON(w, http.StatusOK, sessionIntrospection{
			State:     dispatch.StateUnauthenticated,
			RouteTree: dispatch.RouteTree(dispatch.StateUnauthenticated),
		})
		return
	}

	st := store.Snapshot()
	state := dispatch.Evaluate(st)
	writeJSON(w, http.StatusOK, sessionIntrospection{
		State:         state,
		RouteTree:     dispatch.RouteTree(state),
		Terminal:      dispatch.Terminal(state),
		Authenticated: st.Authenticated,
		Loading:       st.Loading,
		LastError:     st.LastError,
		Profile:       st.Profile,
		ActiveWard:    st.ActiveWard,
	})
}

// Workspace возвращает обработчик корня рабочего дерева маршрутов.
// Отдаёт дескриптор layout; содержимое рабочих мест строит SPA.
func Workspace(state dispatch.State) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store := middleware.StoreFromContext(r.Context())

		resp := sessionIntrospection{
			State:     state,
			RouteTree: dispatch.RouteTree(state),
			Terminal:  dispatch.Terminal(state),
		}
		if store != nil {
			st := store.Snapshot()
			resp.Authenticated = st.Authenticated
			resp.Profile = st.Profile
			resp.ActiveWard = st.ActiveWard
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// NoRole обрабатывает /no-role: терминальное состояние "нет
// распознанной роли" — статичное сообщение, выход только через logout.
func NoRole(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"state":    dispatch.StateNoRole,
		"terminal": true,
		"message":  "your account has no recognized role, contact your administrator",
		"logout":   "/logout",
	})
}
