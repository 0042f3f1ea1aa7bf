// Пакет handlers — HTTP-обработчики Session Gateway.
// auth.go — вход (redirect и password flow), callback и выход.
//
// Identity provider создаётся на время обмена: долгоживущее состояние
// сессии живёт в session.Registry и зашифрованном cookie, а не в
// провайдере. Незавершённый redirect flow переживает между /login и
// /callback в отдельном зашифрованном state-cookie.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/baymed/medlogistics/session-gateway/internal/autherr"
	"github.com/baymed/medlogistics/session-gateway/internal/backend"
	"github.com/baymed/medlogistics/session-gateway/internal/dispatch"
	"github.com/baymed/medlogistics/session-gateway/internal/domain/model"
	"github.com/baymed/medlogistics/session-gateway/internal/httpapi/middleware"
	"github.com/baymed/medlogistics/session-gateway/internal/identity"
	"github.com/baymed/medlogistics/session-gateway/internal/repository"
	"github.com/baymed/medlogistics/session-gateway/internal/session"
	"github.com/baymed/medlogistics/session-gateway/internal/token"
)

// AuthHandler — обработчики входа и выхода.
type AuthHandler struct {
	mode      identity.Mode
	endpoint  *identity.Endpoint
	backend   *backend.Client
	registry  *session.Registry
	cookies   *session.Manager
	verifier  *token.Verifier
	audit     repository.LoginAuditRepository
	publicURL string
	logger    *slog.Logger
}

// NewAuthHandler создаёт обработчики аутентификации.
// verifier проверяет подпись токена при установлении сессии
// (nil — без проверки подписи); audit может быть nil — журнал
// тогда не ведётся.
func NewAuthHandler(
	mode identity.Mode,
	endpoint *identity.Endpoint,
	bc *backend.Client,
	registry *session.Registry,
	cookies *session.Manager,
	verifier *token.Verifier,
	audit repository.LoginAuditRepository,
	publicURL string,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		mode:      mode,
		endpoint:  endpoint,
		backend:   bc,
		registry:  registry,
		cookies:   cookies,
		verifier:  verifier,
		audit:     audit,
		publicURL: publicURL,
		logger:    logger.With(slog.String("component", "auth_handler")),
	}
}

// loginRequest — тело POST /login (password flow).
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// sessionResponse — ответ после установления сессии.
type sessionResponse struct {
	State      dispatch.State     `json:"state"`
	RouteTree  string             `json:"route_tree"`
	Profile    *model.UserProfile `json:"profile,omitempty"`
	ActiveWard *model.Ward        `json:"active_ward,omitempty"`
}

// LoginPage обрабатывает GET /login.
// В redirect flow — начинает Authorization Code + PKCE и отправляет
// браузер на hosted login IdP. В password flow — сообщает SPA режим,
// чтобы та показала форму и отправила POST /login.
func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	if h.mode == identity.ModePassword {
		writeJSON(w, http.StatusOK, map[string]string{"mode": string(identity.ModePassword)})
		return
	}

	provider := identity.NewRedirectProvider(h.endpoint, token.NewStore(&token.MemoryPersistence{}), h.logger)
	redirectURI := h.publicURL + "/callback"

	res, err := provider.Login(r.Context(), identity.LoginRequest{RedirectURI: redirectURI})
	if err != nil {
		h.logger.Error("Не удалось начать redirect flow", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "login_failed", autherr.Message(err))
		return
	}

	if err := h.cookies.SetLoginStateCookie(w, &session.LoginState{
		State:        res.State,
		CodeVerifier: res.CodeVerifier,
		RedirectURI:  redirectURI,
	}); err != nil {
		h.logger.Error("Не удалось записать login state cookie", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "login_failed", "login failed")
		return
	}

	http.Redirect(w, r, res.RedirectURL, http.StatusFound)
}

// Login обрабатывает POST /login (password flow): обмен учётных данных
// на токен, загрузка профиля, установление сессии. Ошибка обмена
// возвращается с сообщением для inline-отображения у формы входа.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if h.mode != identity.ModePassword {
		writeError(w, http.StatusNotFound, "not_found", "direct login is not enabled")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed request body")
		return
	}

	provider := identity.NewPasswordProvider(h.endpoint, token.NewStore(&token.MemoryPersistence{}), h.logger)
	_, err := provider.Login(r.Context(), identity.LoginRequest{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		h.recordLogin(r, "", req.Username, string(identity.ModePassword), repository.AuditOutcomeFailure)
		h.logger.Info("Вход отклонён",
			slog.String("username", req.Username),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusUnauthorized, "authentication_failed", autherr.Message(err))
		return
	}

	raw, ok := provider.AccessToken()
	cred := provider.CurrentUser()
	if !ok || cred == nil {
		writeError(w, http.StatusInternalServerError, "login_failed", "login failed")
		return
	}

	h.establishSession(w, r, raw, cred, string(identity.ModePassword), req.Username, false)
}

// Callback обрабатывает GET /callback (redirect flow): проверка CSRF
// state, обмен authorization code на токен, установление сессии.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if h.mode != identity.ModeRedirect {
		writeError(w, http.StatusNotFound, "not_found", "redirect login is not enabled")
		return
	}

	st, err := h.cookies.LoginStateFromRequest(r)
	if err != nil || st == nil {
		h.logger.Info("Callback без действующего login state")
		h.cookies.ClearLoginStateCookie(w)
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	h.cookies.ClearLoginStateCookie(w)

	if r.URL.Query().Get("state") != st.State {
		h.logger.Warn("Callback с неверным state", slog.String("remote_addr", r.RemoteAddr))
		writeError(w, http.StatusBadRequest, "invalid_state", "login failed")
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing_code", "login failed")
		return
	}

	tokenStore := token.NewStore(&token.MemoryPersistence{})
	provider := identity.NewRedirectProvider(h.endpoint, tokenStore, h.logger)
	if err := provider.CompleteLogin(r.Context(), code, st.RedirectURI, st.CodeVerifier); err != nil {
		h.recordLogin(r, "", "", string(identity.ModeRedirect), repository.AuditOutcomeFailure)
		h.logger.Info("Обмен кода отклонён", slog.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, "authentication_failed", autherr.Message(err))
		return
	}

	raw, ok := tokenStore.Token()
	cred := tokenStore.Credential()
	if !ok || cred == nil {
		writeError(w, http.StatusInternalServerError, "login_failed", "login failed")
		return
	}

	h.establishSession(w, r, raw, cred, string(identity.ModeRedirect), cred.DisplayName, true)
}

// establishSession завершает вход: создаёт сессию в Registry, грузит
// авторитетный профиль из backend, пишет зашифрованный cookie и журнал.
// redirectAfter — отвечать ли 302 на корень дерева маршрутов (redirect
// flow) вместо JSON (password flow).
func (h *AuthHandler) establishSession(
	w http.ResponseWriter,
	r *http.Request,
	raw string,
	cred *model.Credential,
	provider string,
	username string,
	redirectAfter bool,
) {
	// Подпись токена проверяется до установления сессии
	if h.verifier != nil {
		if _, err := h.verifier.Verify(raw); err != nil {
			h.recordLogin(r, cred.Subject, username, provider, repository.AuditOutcomeFailure)
			h.logger.Warn("Токен не прошёл проверку подписи",
				slog.String("subject", cred.Subject),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusUnauthorized, "authentication_failed", "login failed")
			return
		}
	}

	sid := uuid.NewString()
	store := h.registry.GetOrCreate(sid)
	store.SetLoading(true)

	profile, err := h.backend.Me(r.Context(), func() (string, bool) { return raw, true })
	if err != nil {
		// Профиль не получен — сессия не устанавливается
		h.registry.Delete(sid)
		h.recordLogin(r, cred.Subject, username, provider, repository.AuditOutcomeFailure)
		h.logger.Warn("Профиль не получен после входа",
			slog.String("subject", cred.Subject),
			slog.String("error", err.Error()),
		)
		status := http.StatusBadGateway
		if autherr.IsSessionExpired(err) {
			status = http.StatusUnauthorized
		}
		writeError(w, status, string(autherr.KindOf(err)), autherr.Message(err))
		return
	}

	store.SetSession(profile)

	if err := h.cookies.SetCookie(w, &session.CookieData{
		SessionID:   sid,
		AccessToken: raw,
		ExpiresAt:   cred.ExpiresAt.Unix(),
		Subject:     cred.Subject,
	}); err != nil {
		h.registry.Delete(sid)
		h.logger.Error("Не удалось записать cookie сессии", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "login_failed", "login failed")
		return
	}

	h.recordLogin(r, cred.Subject, username, provider, repository.AuditOutcomeSuccess)
	middleware.ObserveLogin(provider, repository.AuditOutcomeSuccess)
	h.logger.Info("Сессия установлена",
		slog.String("subject", cred.Subject),
		slog.String("provider", provider),
	)

	state := dispatch.Evaluate(store.Snapshot())
	if redirectAfter {
		http.Redirect(w, r, dispatch.RouteTree(state), http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		State:     state,
		RouteTree: dispatch.RouteTree(state),
		Profile:   profile,
	})
}

// Logout обрабатывает POST /logout: ровно один ClearSession через
// Registry.Delete, очистка cookie, журнал. В redirect flow браузер
// дополнительно отправляется на logout endpoint IdP.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	data := middleware.CookieFromContext(r.Context())
	if data != nil {
		h.registry.Delete(data.SessionID)
		h.recordLogin(r, data.Subject, "", string(h.mode), repository.AuditOutcomeLogout)
		h.logger.Info("Выход выполнен", slog.String("subject", data.Subject))
	}
	h.cookies.ClearCookie(w)

	if h.mode == identity.ModeRedirect {
		http.Redirect(w, r, h.endpoint.LogoutURL("", h.publicURL+"/login"), http.StatusFound)
		return
	}
	http.Redirect(w, r, "/login", http.StatusFound)
}

// recordLogin пишет событие входа/выхода в журнал и метрики.
// Сбой журнала не мешает аутентификации.
func (h *AuthHandler) recordLogin(r *http.Request, subject, username, provider, outcome string) {
	if outcome != repository.AuditOutcomeSuccess {
		middleware.ObserveLogin(provider, outcome)
	}
	if h.audit == nil {
		return
	}

	remote := r.RemoteAddr
	if host, _, err := net.SplitHostPort(remote); err == nil {
		remote = host
	}

	ctx, cancel := contextWithTimeout(r, 3*time.Second)
	defer cancel()
	if err := h.audit.Insert(ctx, &repository.LoginAuditRecord{
		ID:          uuid.New(),
		UserSubject: subject,
		Username:    username,
		Provider:    provider,
		Outcome:     outcome,
		RemoteAddr:  remote,
	}); err != nil {
		h.logger.Warn("Не удалось записать журнал входа", slog.String("error", err.Error()))
	}
}
