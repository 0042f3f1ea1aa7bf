// Пакет identity — сессионные identity provider'ы Session Gateway.
// Два взаимозаменяемых варианта за одним контрактом Provider:
// redirect flow (hosted login IdP, Authorization Code + PKCE) и
// direct flow (resource-owner-password grant к token endpoint).
// Вариант выбирается конфигурацией при старте; feature-код зависит
// только от интерфейса.
package identity

import (
	"context"
	"errors"

	"github.com/baymed/medlogistics/session-gateway/internal/domain/model"
	"github.com/baymed/medlogistics/session-gateway/internal/domain/roles"
)

// Mode — вариант identity provider.
type Mode string

const (
	// ModeRedirect — hosted redirect flow (пароль приложению не виден).
	ModeRedirect Mode = "redirect"
	// ModePassword — direct password-grant flow.
	ModePassword Mode = "password"
)

// ErrLoginInFlight — повторный login, пока предыдущий не завершён.
// UI обязан блокировать повторную отправку, пока Loading() == true.
var ErrLoginInFlight = errors.New("login уже выполняется")

// LoginRequest — параметры login.
// Username/Password использует direct flow, RedirectURI — redirect flow.
type LoginRequest struct {
	Username    string
	Password    string
	RedirectURI string
}

// LoginResult — результат login.
type LoginResult struct {
	// RedirectURL — URL hosted login IdP (только redirect flow).
	RedirectURL string
	// State — CSRF state параметр auth flow (только redirect flow).
	State string
	// CodeVerifier — PKCE code_verifier для обмена кода (только redirect flow).
	CodeVerifier string
}

// Provider — контракт identity provider сессии.
// {Loading, Authenticated, CurrentUser, Login, Logout, AccessToken, HasRole}.
type Provider interface {
	// Mode возвращает вариант провайдера.
	Mode() Mode
	// Loading — выполняется ли сейчас обмен login.
	Loading() bool
	// Authenticated — есть ли действующий credential.
	Authenticated() bool
	// CurrentUser возвращает текущий credential (nil — не аутентифицирован).
	CurrentUser() *model.Credential
	// HasRole — единственный предикат ролей для role-gated кода.
	HasRole(role roles.Role) bool
	// AccessToken возвращает действующий сырой токен.
	AccessToken() (string, bool)
	// Login выполняет вход. Direct flow приостанавливает вызывающего
	// до завершения сетевого обмена; redirect flow возвращает URL
	// hosted login. Пока обмен в полёте, Loading() == true.
	Login(ctx context.Context, req LoginRequest) (*LoginResult, error)
	// Logout очищает локальное состояние Token Store.
	// Возвращает URL внешнего logout endpoint ("" — внешний вызов не нужен).
	Logout(postLogoutRedirectURI string) string
}
