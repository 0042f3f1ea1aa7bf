// verifier.go — проверка подписи bearer-токенов через JWKS identity provider.
// Фоновое обновление ключей через jwkset; используется при установлении
// сессии, DecodeClaims подпись не проверяет.
package token

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/baymed/medlogistics/session-gateway/internal/domain/model"
)

// Verifier — валидатор подписи и стандартных claims токена.
type Verifier struct {
	jwks   keyfunc.Keyfunc
	issuer string
	leeway time.Duration
	logger *slog.Logger
}

// NewVerifier создаёт Verifier с JWKS из identity provider.
// jwksURL — JWKS endpoint IdP; issuer — ожидаемый iss;
// refreshInterval — интервал фонового обновления ключей;
// leeway — допустимое отклонение времени при проверке exp/nbf.
// NoErrorReturnFirstHTTPReq — стартуем даже если IdP ещё недоступен.
func NewVerifier(
	jwksURL string,
	issuer string,
	httpClient *http.Client,
	refreshInterval time.Duration,
	leeway time.Duration,
	logger *slog.Logger,
) (*Verifier, error) {
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           refreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return &Verifier{
		jwks:   k,
		issuer: issuer,
		leeway: leeway,
		logger: logger.With(slog.String("component", "token_verifier")),
	}, nil
}

// NewVerifierWithKeyfunc создаёт Verifier с готовой keyfunc.
// Используется в тестах для подстановки mock JWKS.
func NewVerifierWithKeyfunc(kf keyfunc.Keyfunc, issuer string, leeway time.Duration, logger *slog.Logger) *Verifier {
	return &Verifier{
		jwks:   kf,
		issuer: issuer,
		leeway: leeway,
		logger: logger.With(slog.String("component", "token_verifier")),
	}
}

// Verify проверяет подпись и стандартные claims токена,
// возвращает разобранный Credential.
func (v *Verifier) Verify(raw string) (*model.Credential, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	parsed, err := jwt.Parse(raw, v.jwks.Keyfunc, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTokenFormat, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidTokenFormat
	}

	return DecodeClaims(raw)
}
