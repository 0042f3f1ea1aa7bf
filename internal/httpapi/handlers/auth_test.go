// auth_test.go — тесты входа и выхода поверх httptest: поддельный IdP
// (token endpoint) и поддельный backend (профиль, отделения).
package handlers

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/baymed/medlogistics/session-gateway/internal/backend"
	"github.com/baymed/medlogistics/session-gateway/internal/dispatch"
	"github.com/baymed/medlogistics/session-gateway/internal/httpapi/middleware"
	"github.com/baymed/medlogistics/session-gateway/internal/identity"
	"github.com/baymed/medlogistics/session-gateway/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// makeToken собирает JWT без подписи (подпись в тестах не проверяется).
func makeToken(t *testing.T, sub string, roleNames []string, exp time.Time) string {
	t.Helper()

	header, _ := json.Marshal(map[string]string{"alg": "RS256", "typ": "JWT"})
	payload, err := json.Marshal(map[string]any{
		"sub":                sub,
		"preferred_username": sub,
		"email":              sub + "@hospital.example",
		"exp":                exp.Unix(),
		"iss":                "https://idp.example/realms/medlog",
		"realm_access":       map[string]any{"roles": roleNames},
	})
	if err != nil {
		t.Fatalf("Ошибка сериализации claims: %v", err)
	}

	return base64.RawURLEncoding.EncodeToString(header) + "." +
		base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString([]byte("sig"))
}

// fakeIdP — поддельный token endpoint IdP.
// status != 200 — ответ с этим статусом и телом OAuth-ошибки.
func fakeIdP(t *testing.T, status int, accessToken string) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/realms/medlog/protocol/openid-connect/token" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"bad credentials"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": accessToken,
			"token_type":   "Bearer",
			"expires_in":   300,
		})
	}))
}

// fakeBackend — поддельный REST backend: /users/me и /users/me/wards.
func fakeBackend(t *testing.T, meStatus int, meBody any, wards []map[string]string) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/users/me":
			if meStatus != http.StatusOK {
				w.WriteHeader(meStatus)
				return
			}
			_ = json.NewEncoder(w).Encode(meBody)
		case "/users/me/wards":
			_ = json.NewEncoder(w).Encode(map[string]any{"wards": wards})
		default:
			http.NotFound(w, r)
		}
	}))
}

// authFixture — собранный AuthHandler с его зависимостями.
type authFixture struct {
	handler  *AuthHandler
	registry *session.Registry
	cookies  *session.Manager
	loader   *middleware.SessionLoader
}

func newAuthFixture(t *testing.T, mode identity.Mode, idpURL, backendURL string) *authFixture {
	t.Helper()
	logger := testLogger()

	endpoint := identity.NewEndpoint(identity.EndpointConfig{
		IdPURL:   idpURL,
		Realm:    "medlog",
		ClientID: "medlog-spa",
	})
	bc, err := backend.New(backendURL, "", logger)
	if err != nil {
		t.Fatalf("Ошибка создания backend-клиента: %v", err)
	}
	cookies, err := session.NewManager("test-session-key", false)
	if err != nil {
		t.Fatalf("Ошибка создания менеджера cookie: %v", err)
	}
	registry := session.NewRegistry()

	return &authFixture{
		handler:  NewAuthHandler(mode, endpoint, bc, registry, cookies, nil, nil, "http://gw.example", logger),
		registry: registry,
		cookies:  cookies,
		loader:   middleware.NewSessionLoader(cookies, registry, bc, logger),
	}
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName {
			return c
		}
	}
	return nil
}

func TestPasswordLoginEstablishesSession(t *testing.T) {
	token := makeToken(t, "nurse-1", []string{"nurse"}, time.Now().Add(time.Hour))
	idp := fakeIdP(t, http.StatusOK, token)
	defer idp.Close()
	be := fakeBackend(t, http.StatusOK, map[string]any{
		"subject":      "nurse-1",
		"email":        "nurse-1@hospital.example",
		"display_name": "Nurse One",
		"roles":        []string{"nurse"},
	}, nil)
	defer be.Close()

	fx := newAuthFixture(t, identity.ModePassword, idp.URL, be.URL)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login",
		strings.NewReader(`{"username":"nurse-1","password":"secret"}`))
	fx.handler.Login(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Статус = %d, тело: %s", rec.Code, rec.Body.String())
	}

	var resp sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Ответ не JSON: %v", err)
	}
	// Медсестра без выбранного отделения → выбор отделения
	if resp.State != dispatch.StateAwaitingWard || resp.RouteTree != "/wards" {
		t.Errorf("state = %q, route_tree = %q", resp.State, resp.RouteTree)
	}
	if resp.Profile == nil || resp.Profile.Subject != "nurse-1" {
		t.Errorf("Профиль не установлен: %+v", resp.Profile)
	}

	cookie := sessionCookie(t, rec)
	if cookie == nil || cookie.Value == "" {
		t.Fatal("Cookie сессии не установлен")
	}
	data, err := fx.cookies.Decrypt(cookie.Value)
	if err != nil {
		t.Fatalf("Cookie не расшифровывается: %v", err)
	}
	if data.Subject != "nurse-1" || data.AccessToken != token {
		t.Errorf("Данные cookie: %+v", data)
	}
	if _, ok := fx.registry.Get(data.SessionID); !ok {
		t.Error("Сессия не зарегистрирована в Registry")
	}
}

func TestPasswordLoginInvalidCredentials(t *testing.T) {
	idp := fakeIdP(t, http.StatusUnauthorized, "")
	defer idp.Close()
	be := fakeBackend(t, http.StatusOK, nil, nil)
	defer be.Close()

	fx := newAuthFixture(t, identity.ModePassword, idp.URL, be.URL)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login",
		strings.NewReader(`{"username":"nurse-1","password":"wrong"}`))
	fx.handler.Login(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Статус = %d", rec.Code)
	}
	var resp errorResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Message != "invalid username or password" {
		t.Errorf("Message = %q", resp.Message)
	}
	if fx.registry.Len() != 0 {
		t.Error("Сессия не должна создаваться при отказе входа")
	}
}

func TestPasswordLoginProfileFetchFailure(t *testing.T) {
	token := makeToken(t, "nurse-1", []string{"nurse"}, time.Now().Add(time.Hour))
	idp := fakeIdP(t, http.StatusOK, token)
	defer idp.Close()
	// Профиль недоступен — сессия не устанавливается
	be := fakeBackend(t, http.StatusInternalServerError, nil, nil)
	defer be.Close()

	fx := newAuthFixture(t, identity.ModePassword, idp.URL, be.URL)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login",
		strings.NewReader(`{"username":"nurse-1","password":"secret"}`))
	fx.handler.Login(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("Статус = %d", rec.Code)
	}
	if fx.registry.Len() != 0 {
		t.Error("Сессия должна быть удалена при сбое загрузки профиля")
	}
	if c := sessionCookie(t, rec); c != nil && c.MaxAge > 0 {
		t.Error("Cookie сессии не должен устанавливаться")
	}
}

func TestLoginPageRedirectFlow(t *testing.T) {
	idp := fakeIdP(t, http.StatusOK, "")
	defer idp.Close()
	be := fakeBackend(t, http.StatusOK, nil, nil)
	defer be.Close()

	fx := newAuthFixture(t, identity.ModeRedirect, idp.URL, be.URL)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	fx.handler.LoginPage(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("Статус = %d", rec.Code)
	}
	loc := rec.Header().Get("Location")
	if !strings.Contains(loc, "/realms/medlog/protocol/openid-connect/auth") {
		t.Errorf("Location = %q", loc)
	}
	if !strings.Contains(loc, "code_challenge=") || !strings.Contains(loc, "state=") {
		t.Errorf("PKCE-параметры отсутствуют: %q", loc)
	}

	var stateCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.LoginStateCookieName {
			stateCookie = c
		}
	}
	if stateCookie == nil || stateCookie.Value == "" {
		t.Fatal("Login state cookie не установлен")
	}
}

func TestLoginPagePasswordModeReportsMode(t *testing.T) {
	fx := newAuthFixture(t, identity.ModePassword, "http://idp.invalid", "http://api.invalid")

	rec := httptest.NewRecorder()
	fx.handler.LoginPage(rec, httptest.NewRequest(http.MethodGet, "/login", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Статус = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"password"`) {
		t.Errorf("Тело = %s", rec.Body.String())
	}
}

func TestCallbackStateMismatch(t *testing.T) {
	idp := fakeIdP(t, http.StatusOK, "")
	defer idp.Close()
	be := fakeBackend(t, http.StatusOK, nil, nil)
	defer be.Close()

	fx := newAuthFixture(t, identity.ModeRedirect, idp.URL, be.URL)

	// Готовим login state cookie
	seed := httptest.NewRecorder()
	if err := fx.cookies.SetLoginStateCookie(seed, &session.LoginState{
		State:        "expected-state",
		CodeVerifier: "verifier",
		RedirectURI:  "http://gw.example/callback",
	}); err != nil {
		t.Fatalf("Ошибка записи state cookie: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/callback?state=forged&code=abc", nil)
	req.AddCookie(seed.Result().Cookies()[0])
	fx.handler.Callback(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Статус = %d", rec.Code)
	}
}

func TestCallbackSuccessRedirects(t *testing.T) {
	token := makeToken(t, "doctor-1", []string{"doctor"}, time.Now().Add(time.Hour))
	idp := fakeIdP(t, http.StatusOK, token)
	defer idp.Close()
	be := fakeBackend(t, http.StatusOK, map[string]any{
		"subject":      "doctor-1",
		"display_name": "Doctor One",
		"roles":        []string{"doctor"},
	}, nil)
	defer be.Close()

	fx := newAuthFixture(t, identity.ModeRedirect, idp.URL, be.URL)

	seed := httptest.NewRecorder()
	if err := fx.cookies.SetLoginStateCookie(seed, &session.LoginState{
		State:        "expected-state",
		CodeVerifier: "verifier",
		RedirectURI:  "http://gw.example/callback",
	}); err != nil {
		t.Fatalf("Ошибка записи state cookie: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/callback?state=expected-state&code=auth-code", nil)
	req.AddCookie(seed.Result().Cookies()[0])
	fx.handler.Callback(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("Статус = %d, тело: %s", rec.Code, rec.Body.String())
	}
	// Врач без отделения → выбор отделения
	if loc := rec.Header().Get("Location"); loc != "/wards" {
		t.Errorf("Location = %q", loc)
	}
	if sessionCookie(t, rec) == nil {
		t.Error("Cookie сессии не установлен")
	}
}

func TestLogoutClearsSessionOnce(t *testing.T) {
	fx := newAuthFixture(t, identity.ModePassword, "http://idp.invalid", "http://api.invalid")

	token := makeToken(t, "nurse-1", []string{"nurse"}, time.Now().Add(time.Hour))
	data := &session.CookieData{
		SessionID:   "sid-1",
		AccessToken: token,
		ExpiresAt:   time.Now().Add(time.Hour).Unix(),
		Subject:     "nurse-1",
	}
	fx.registry.GetOrCreate("sid-1")

	seed := httptest.NewRecorder()
	if err := fx.cookies.SetCookie(seed, data); err != nil {
		t.Fatalf("Ошибка записи cookie: %v", err)
	}

	// Logout читает сессию из контекста — пропускаем через SessionLoader
	handler := fx.loader.Middleware()(http.HandlerFunc(fx.handler.Logout))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(seed.Result().Cookies()[0])
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("Статус = %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/login" {
		t.Errorf("Location = %q", loc)
	}
	if _, ok := fx.registry.Get("sid-1"); ok {
		t.Error("Сессия не удалена из Registry")
	}

	cleared := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("Cookie сессии не очищен")
	}

	// Повторный logout без сессии — не ошибка
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, httptest.NewRequest(http.MethodPost, "/logout", nil))
	if rec2.Code != http.StatusFound {
		t.Errorf("Повторный logout: статус = %d", rec2.Code)
	}
}
