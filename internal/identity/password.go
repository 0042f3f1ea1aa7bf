// password.go — direct flow: resource-owner-password grant к token endpoint.
// Logout полностью локальный, сетевого вызова нет.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/baymed/medlogistics/session-gateway/internal/autherr"
	"github.com/baymed/medlogistics/session-gateway/internal/domain/model"
	"github.com/baymed/medlogistics/session-gateway/internal/domain/roles"
	"github.com/baymed/medlogistics/session-gateway/internal/token"
)

// Сообщения пользователю при отказе login (по статусу token endpoint).
const (
	msgInvalidCredentials = "invalid username or password"
	msgEndpointMissing    = "endpoint misconfigured"
	msgServerError        = "server error, retry later"
	msgGenericFailure     = "login failed"
)

// PasswordProvider — identity provider прямого password-grant flow.
type PasswordProvider struct {
	endpoint *Endpoint
	store    *token.Store
	loading  atomic.Bool
	logger   *slog.Logger
}

// NewPasswordProvider создаёт провайдер direct flow поверх Token Store.
func NewPasswordProvider(endpoint *Endpoint, store *token.Store, logger *slog.Logger) *PasswordProvider {
	return &PasswordProvider{
		endpoint: endpoint,
		store:    store,
		logger:   logger.With(slog.String("component", "identity_password")),
	}
}

func (p *PasswordProvider) Mode() Mode { return ModePassword }

func (p *PasswordProvider) Loading() bool { return p.loading.Load() }

func (p *PasswordProvider) Authenticated() bool { return p.store.Credential() != nil }

func (p *PasswordProvider) CurrentUser() *model.Credential { return p.store.Credential() }

func (p *PasswordProvider) HasRole(role roles.Role) bool { return p.store.HasRole(role) }

func (p *PasswordProvider) AccessToken() (string, bool) { return p.store.Token() }

// Login выполняет password grant и кладёт access token в Token Store.
// Вызывающий приостанавливается до завершения сетевого обмена;
// повторный login в полёте отклоняется (ErrLoginInFlight).
// Статусы token endpoint маппятся в сообщения пользователю:
// 401 → неверные учётные данные, 404 → endpoint не настроен,
// 5xx → ошибка сервера, остальное → обобщённый отказ.
func (p *PasswordProvider) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if !p.loading.CompareAndSwap(false, true) {
		return nil, ErrLoginInFlight
	}
	defer p.loading.Store(false)

	resp, err := p.endpoint.ExchangePassword(ctx, req.Username, req.Password)
	if err != nil {
		return nil, p.mapExchangeError(req.Username, err)
	}

	if err := p.store.SetToken(resp.AccessToken); err != nil {
		p.logger.Error("IdP вернул недекодируемый access token",
			slog.String("username", req.Username),
			slog.String("error", err.Error()),
		)
		return nil, autherr.New(autherr.KindAuthenticationFailed, msgGenericFailure, err)
	}

	p.logger.Info("Login выполнен",
		slog.String("username", req.Username),
	)
	return &LoginResult{}, nil
}

// Logout чисто локальный: очистка Token Store, без сетевого вызова.
func (p *PasswordProvider) Logout(_ string) string {
	p.store.Clear()
	return ""
}

// mapExchangeError переводит ошибку token endpoint в AuthenticationFailed
// с сообщением для пользователя.
func (p *PasswordProvider) mapExchangeError(username string, err error) error {
	msg := msgGenericFailure

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.status == 401:
			msg = msgInvalidCredentials
		case statusErr.status == 404:
			msg = msgEndpointMissing
		case statusErr.status >= 500:
			msg = msgServerError
		}
	}

	p.logger.Warn("Login отклонён",
		slog.String("username", username),
		slog.String("error", err.Error()),
	)
	return autherr.New(autherr.KindAuthenticationFailed, msg, fmt.Errorf("password grant: %w", err))
}
