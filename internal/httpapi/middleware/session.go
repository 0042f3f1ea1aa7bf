// session.go — загрузка сессии из зашифрованного cookie в контекст запроса.
// Не принуждает к аутентификации — этим занимается Guard; здесь запрос
// лишь получает Store и данные cookie, если сессия существует и действительна.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/baymed/medlogistics/session-gateway/internal/autherr"
	"github.com/baymed/medlogistics/session-gateway/internal/backend"
	"github.com/baymed/medlogistics/session-gateway/internal/domain/model"
	"github.com/baymed/medlogistics/session-gateway/internal/session"
	"github.com/baymed/medlogistics/session-gateway/internal/token"
)

// contextKey — тип для ключей контекста запроса.
type contextKey string

const (
	// contextKeyStore — *session.Store текущей сессии.
	contextKeyStore contextKey = "session_store"
	// contextKeyCookie — *session.CookieData текущей сессии.
	contextKeyCookie contextKey = "session_cookie"
	// contextKeyTokens — *token.Store с credential текущего запроса.
	contextKeyTokens contextKey = "session_tokens"
)

// rehydrateTimeout — таймаут запроса профиля при восстановлении сессии.
const rehydrateTimeout = 10 * time.Second

// ProfileFetcher — источник авторитетного профиля пользователя.
// Реализуется backend.Client (GET /users/me).
type ProfileFetcher interface {
	Me(ctx context.Context, tokens backend.TokenProvider) (*model.UserProfile, error)
}

// SessionLoader — middleware загрузки сессии из cookie.
type SessionLoader struct {
	cookies  *session.Manager
	registry *session.Registry
	profiles ProfileFetcher
	logger   *slog.Logger
}

// NewSessionLoader создаёт middleware загрузки сессии.
func NewSessionLoader(
	cookies *session.Manager,
	registry *session.Registry,
	profiles ProfileFetcher,
	logger *slog.Logger,
) *SessionLoader {
	return &SessionLoader{
		cookies:  cookies,
		registry: registry,
		profiles: profiles,
		logger:   logger.With(slog.String("component", "session_loader")),
	}
}

// cookieCredential адаптирует данные cookie текущего запроса
// к token.Persistence: зашифрованный cookie и есть durable-хранилище
// токена, а Manager запечатывает его при записи ответа.
type cookieCredential struct {
	data *session.CookieData
}

func (c cookieCredential) Save(raw string) error {
	c.data.AccessToken = raw
	return nil
}

func (c cookieCredential) Load() (string, error) {
	return c.data.AccessToken, nil
}

func (c cookieCredential) Delete() error {
	c.data.AccessToken = ""
	return nil
}

// Middleware извлекает сессию из cookie и помещает Store в контекст.
// Повреждённый cookie очищается, запрос продолжается без сессии.
// Истёкший access token завершает сессию: единственный ClearSession
// через Registry.Delete, очистка cookie, запрос идёт как неаутентифицированный.
func (sl *SessionLoader) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			data, err := sl.cookies.FromRequest(r)
			if err != nil {
				sl.logger.Debug("Повреждённый cookie сессии, очищен",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				sl.cookies.ClearCookie(w)
				next.ServeHTTP(w, r)
				return
			}
			if data == nil {
				next.ServeHTTP(w, r)
				return
			}

			if data.IsExpired() {
				sl.logger.Info("Сессия истекла",
					slog.String("subject", data.Subject),
				)
				sl.registry.Delete(data.SessionID)
				sl.cookies.ClearCookie(w)
				next.ServeHTTP(w, r)
				return
			}

			tokens := token.NewStore(cookieCredential{data: data})
			if err := tokens.Restore(); err != nil {
				sl.logger.Warn("Credential из cookie не восстановлен",
					slog.String("error", err.Error()),
				)
			}

			store := sl.registry.GetOrCreate(data.SessionID)
			if !sl.rehydrate(r.Context(), store, tokens.Token, data) {
				sl.registry.Delete(data.SessionID)
				sl.cookies.ClearCookie(w)
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), contextKeyStore, store)
			ctx = context.WithValue(ctx, contextKeyCookie, data)
			ctx = context.WithValue(ctx, contextKeyTokens, tokens)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// rehydrate восстанавливает состояние Store после рестарта процесса:
// cookie переживает рестарт, in-memory Registry — нет. Профиль всегда
// запрашивается у backend (GET /users/me): роли и права берутся из
// авторитетного ответа, а не из claims токена — роль, отозванная на
// backend, не должна переживать рестарт на остаток срока жизни токена.
// false — backend отверг credential, сессию нужно завершить.
func (sl *SessionLoader) rehydrate(
	ctx context.Context,
	store *session.Store,
	tokens backend.TokenProvider,
	data *session.CookieData,
) bool {
	if store.Snapshot().Authenticated {
		return true
	}

	store.SetLoading(true)
	fetchCtx, cancel := context.WithTimeout(ctx, rehydrateTimeout)
	defer cancel()

	profile, err := sl.profiles.Me(fetchCtx, tokens)
	if err != nil {
		kind := autherr.KindOf(err)
		if kind == autherr.KindSessionExpired || kind == autherr.KindCredentialExpired {
			sl.logger.Info("Backend отверг credential при восстановлении сессии",
				slog.String("subject", data.Subject),
			)
			return false
		}
		// Transient сбой: сессия остаётся в состоянии загрузки профиля,
		// Guard ответит 503, следующий запрос повторит fetch
		sl.logger.Warn("Профиль не загружен при восстановлении сессии",
			slog.String("subject", data.Subject),
			slog.String("error", err.Error()),
		)
		return true
	}

	store.SetSession(profile)
	if data.Ward != nil {
		w := *data.Ward
		store.SetActiveWard(&w)
	}
	sl.logger.Info("Сессия восстановлена после рестарта",
		slog.String("subject", profile.Subject),
	)
	return true
}

// StoreFromContext извлекает Store сессии из контекста.
// nil — запрос без действующей сессии.
func StoreFromContext(ctx context.Context) *session.Store {
	store, ok := ctx.Value(contextKeyStore).(*session.Store)
	if !ok {
		return nil
	}
	return store
}

// CookieFromContext извлекает данные cookie сессии из контекста.
func CookieFromContext(ctx context.Context) *session.CookieData {
	data, ok := ctx.Value(contextKeyCookie).(*session.CookieData)
	if !ok {
		return nil
	}
	return data
}

// TokensFromContext возвращает TokenProvider для backend-запросов
// из credential текущего запроса.
func TokensFromContext(ctx context.Context) backend.TokenProvider {
	tokens, ok := ctx.Value(contextKeyTokens).(*token.Store)
	if !ok {
		return func() (string, bool) { return "", false }
	}
	return tokens.Token
}
