// redirect.go — redirect flow: hosted login IdP, Authorization Code + PKCE.
// Приложение не видит пароль; credential доставляется через callback
// с authorization code. Защищённый контент не отдаётся, пока провайдер
// не подтвердит неавторизованное/авторизованное состояние (Loading() == false).
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/baymed/medlogistics/session-gateway/internal/autherr"
	"github.com/baymed/medlogistics/session-gateway/internal/domain/model"
	"github.com/baymed/medlogistics/session-gateway/internal/domain/roles"
	"github.com/baymed/medlogistics/session-gateway/internal/token"
)

// RedirectProvider — identity provider hosted redirect flow.
type RedirectProvider struct {
	endpoint *Endpoint
	store    *token.Store
	loading  atomic.Bool
	// idToken — id_token последнего обмена, для id_token_hint при logout.
	idToken atomic.Value
	logger  *slog.Logger
}

// NewRedirectProvider создаёт провайдер redirect flow поверх Token Store.
func NewRedirectProvider(endpoint *Endpoint, store *token.Store, logger *slog.Logger) *RedirectProvider {
	return &RedirectProvider{
		endpoint: endpoint,
		store:    store,
		logger:   logger.With(slog.String("component", "identity_redirect")),
	}
}

func (p *RedirectProvider) Mode() Mode { return ModeRedirect }

func (p *RedirectProvider) Loading() bool { return p.loading.Load() }

func (p *RedirectProvider) Authenticated() bool { return p.store.Credential() != nil }

func (p *RedirectProvider) CurrentUser() *model.Credential { return p.store.Credential() }

func (p *RedirectProvider) HasRole(role roles.Role) bool { return p.store.HasRole(role) }

func (p *RedirectProvider) AccessToken() (string, bool) { return p.store.Token() }

// Login передаёт управление hosted login IdP: генерирует PKCE и state,
// возвращает authorize URL для redirect. Credential появится позже,
// через CompleteLogin на callback.
func (p *RedirectProvider) Login(_ context.Context, req LoginRequest) (*LoginResult, error) {
	pkce, err := GeneratePKCE()
	if err != nil {
		return nil, fmt.Errorf("генерация PKCE: %w", err)
	}
	state, err := GenerateState()
	if err != nil {
		return nil, fmt.Errorf("генерация state: %w", err)
	}

	p.loading.Store(true)

	return &LoginResult{
		RedirectURL:  p.endpoint.AuthorizeURL(req.RedirectURI, state, pkce.CodeChallenge),
		State:        state,
		CodeVerifier: pkce.CodeVerifier,
	}, nil
}

// CompleteLogin обменивает authorization code на tokens и кладёт
// access token в Token Store. Вызывается callback handler'ом
// после проверки state.
func (p *RedirectProvider) CompleteLogin(ctx context.Context, code, redirectURI, codeVerifier string) error {
	defer p.loading.Store(false)

	resp, err := p.endpoint.ExchangeCode(ctx, code, redirectURI, codeVerifier)
	if err != nil {
		p.logger.Warn("Обмен authorization code отклонён",
			slog.String("error", err.Error()),
		)
		return autherr.New(autherr.KindAuthenticationFailed, msgGenericFailure, err)
	}

	if err := p.store.SetToken(resp.AccessToken); err != nil {
		return autherr.New(autherr.KindAuthenticationFailed, msgGenericFailure, err)
	}
	if resp.IDToken != "" {
		p.idToken.Store(resp.IDToken)
	}

	return nil
}

// Logout очищает локальный Token Store и возвращает URL внешнего
// logout endpoint с post-logout redirect.
func (p *RedirectProvider) Logout(postLogoutRedirectURI string) string {
	p.store.Clear()
	p.loading.Store(false)

	hint, _ := p.idToken.Load().(string)
	return p.endpoint.LogoutURL(hint, postLogoutRedirectURI)
}
