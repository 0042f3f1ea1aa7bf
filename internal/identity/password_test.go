package identity

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/baymed/medlogistics/session-gateway/internal/autherr"
	"github.com/baymed/medlogistics/session-gateway/internal/domain/roles"
	"github.com/baymed/medlogistics/session-gateway/internal/token"
)

// testJWT собирает JWT без подписи для тестов провайдеров.
func testJWT(t *testing.T, claims map[string]any) string {
	t.Helper()

	header, _ := json.Marshal(map[string]string{"alg": "RS256", "typ": "JWT"})
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("Ошибка сериализации payload: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(header) + "." +
		base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString([]byte("sig"))
}

// testEndpoint создаёт Endpoint, указывающий на httptest-сервер.
func testEndpoint(srvURL string) *Endpoint {
	return NewEndpoint(EndpointConfig{
		IdPURL:   srvURL,
		Realm:    "medlog",
		ClientID: "medlog-pwa",
		Timeout:  5 * time.Second,
	})
}

// TestPasswordLoginSuccess — сценарий doctor/doctor: token endpoint
// возвращает access_token с ролью doctor, провайдер аутентифицирован.
func TestPasswordLoginSuccess(t *testing.T) {
	accessToken := testJWT(t, map[string]any{
		"sub":          "doc-1",
		"exp":          time.Now().Add(time.Hour).Unix(),
		"realm_access": map[string]any{"roles": []string{"doctor"}},
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		// Bit-exact контракт direct flow
		if got := r.PostForm.Get("grant_type"); got != "password" {
			t.Errorf("grant_type = %q, ожидалось password", got)
		}
		if got := r.PostForm.Get("client_id"); got != "medlog-pwa" {
			t.Errorf("client_id = %q", got)
		}
		if got := r.PostForm.Get("username"); got != "doctor" {
			t.Errorf("username = %q", got)
		}
		if got := r.PostForm.Get("password"); got != "doctor" {
			t.Errorf("password = %q", got)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": accessToken, "token_type": "Bearer"})
	}))
	defer srv.Close()

	store := token.NewStore(nil)
	p := NewPasswordProvider(testEndpoint(srv.URL), store, slog.Default())

	if _, err := p.Login(context.Background(), LoginRequest{Username: "doctor", Password: "doctor"}); err != nil {
		t.Fatalf("Login: %v", err)
	}

	if !p.Authenticated() {
		t.Error("Провайдер должен быть аутентифицирован")
	}
	if !p.HasRole(roles.RoleDoctor) {
		t.Error("Ожидалась роль doctor")
	}
	if p.Loading() {
		t.Error("Loading должен сброситься после завершения обмена")
	}
	if _, ok := p.AccessToken(); !ok {
		t.Error("AccessToken должен возвращать действующий токен")
	}
}

// TestPasswordLoginErrorMapping проверяет маппинг статусов token endpoint
// в сообщения пользователю.
func TestPasswordLoginErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"401 — неверные учётные данные", 401, `{"error":"invalid_grant","error_description":"Invalid user credentials"}`, msgInvalidCredentials},
		{"404 — endpoint не настроен", 404, `not found`, msgEndpointMissing},
		{"500 — ошибка сервера", 500, `{"error":"unknown_error"}`, msgServerError},
		{"503 — ошибка сервера", 503, ``, msgServerError},
		{"403 — обобщённый отказ", 403, `{"error":"access_denied"}`, msgGenericFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := NewPasswordProvider(testEndpoint(srv.URL), token.NewStore(nil), slog.Default())

			_, err := p.Login(context.Background(), LoginRequest{Username: "nurse", Password: "wrong"})
			if err == nil {
				t.Fatal("Ожидалась ошибка login")
			}
			if autherr.KindOf(err) != autherr.KindAuthenticationFailed {
				t.Errorf("Kind = %q, ожидался AuthenticationFailed", autherr.KindOf(err))
			}
			if got := autherr.Message(err); got != tt.wantMsg {
				t.Errorf("Сообщение = %q, ожидалось %q", got, tt.wantMsg)
			}
			if p.Authenticated() {
				t.Error("Провайдер не должен быть аутентифицирован после отказа")
			}
		})
	}
}

// TestPasswordLoginDuplicateRejected проверяет, что пока обмен в полёте,
// Loading() == true и повторный login отклоняется.
func TestPasswordLoginDuplicateRejected(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	p := NewPasswordProvider(testEndpoint(srv.URL), token.NewStore(nil), slog.Default())

	firstDone := make(chan error, 1)
	go func() {
		_, err := p.Login(context.Background(), LoginRequest{Username: "a", Password: "b"})
		firstDone <- err
	}()

	// Ждём, пока первый login займёт флаг loading
	deadline := time.After(2 * time.Second)
	for !p.Loading() {
		select {
		case <-deadline:
			t.Fatal("Loading не выставился")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if _, err := p.Login(context.Background(), LoginRequest{Username: "a", Password: "b"}); !errors.Is(err, ErrLoginInFlight) {
		t.Errorf("Повторный login: ожидался ErrLoginInFlight, получено %v", err)
	}

	close(release)
	if err := <-firstDone; err == nil {
		t.Error("Первый login должен завершиться отказом 401")
	}
	if p.Loading() {
		t.Error("Loading должен сброситься после завершения обмена")
	}
}

// TestPasswordLogoutLocal проверяет, что logout direct flow чисто локальный.
func TestPasswordLogoutLocal(t *testing.T) {
	store := token.NewStore(nil)
	raw := testJWT(t, map[string]any{"sub": "u", "exp": time.Now().Add(time.Hour).Unix()})
	if err := store.SetToken(raw); err != nil {
		t.Fatalf("SetToken: %v", err)
	}

	p := NewPasswordProvider(testEndpoint("http://idp.invalid"), store, slog.Default())

	if url := p.Logout("http://app.example/"); url != "" {
		t.Errorf("Logout direct flow не должен возвращать внешний URL, получено %q", url)
	}
	if p.Authenticated() {
		t.Error("После logout провайдер не должен быть аутентифицирован")
	}
}
