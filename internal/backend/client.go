// Пакет backend — HTTP-клиент REST backend'а препаратной логистики.
// Операции: Me (GET /users/me), Wards (GET /users/me/wards).
// Каждый запрос несёт Authorization: Bearer из Token Store; статусы
// маппятся в таксономию autherr на этой границе — handlers сырые
// HTTP-статусы не разбирают. 401 на любом endpoint фатален для сессии.
// Поддерживает TLS с кастомным CA (SG_API_CA_CERT_PATH).
package backend

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/baymed/medlogistics/session-gateway/internal/autherr"
	"github.com/baymed/medlogistics/session-gateway/internal/domain/model"
	"github.com/baymed/medlogistics/session-gateway/internal/domain/roles"
)

// TokenProvider — функция, возвращающая bearer-токен текущей сессии.
// false — действующего токена нет.
type TokenProvider func() (string, bool)

// meResponse — ответ GET /users/me.
type meResponse struct {
	Subject     string   `json:"subject"`
	Email       string   `json:"email"`
	DisplayName string   `json:"display_name"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions,omitempty"`
}

// wardsResponse — ответ GET /users/me/wards.
type wardsResponse struct {
	Wards []model.Ward `json:"wards"`
}

// Client — HTTP-клиент backend'а.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт клиент backend'а.
// caCertPath — путь к CA-сертификату для TLS (пустая строка — стандартный пул).
func New(baseURL, caCertPath string, logger *slog.Logger) (*Client, error) {
	httpClient := &http.Client{Timeout: 30 * time.Second}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата backend: %w", err)
		}
		httpClient.Transport = &http.Transport{
			TLSClientConfig: tlsConfig,
		}
		logger.Info("CA-сертификат backend добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "backend_client")),
	}, nil
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &tls.Config{RootCAs: caCertPool}, nil
}

// BaseURL возвращает базовый URL backend'а (для dephealth-проверок).
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Me запрашивает авторитетный профиль пользователя.
// GET /users/me — вызывается один раз на успешный login; роли профиля
// берутся из ответа backend, не из claims токена.
func (c *Client) Me(ctx context.Context, tokens TokenProvider) (*model.UserProfile, error) {
	var me meResponse
	if err := c.get(ctx, "/users/me", tokens, autherr.KindProfileFetchFailed, &me); err != nil {
		return nil, err
	}

	return &model.UserProfile{
		Subject:     me.Subject,
		Email:       me.Email,
		DisplayName: me.DisplayName,
		Roles:       roles.FromStrings(me.Roles),
		Permissions: me.Permissions,
	}, nil
}

// Wards запрашивает список отделений, доступных текущему credential.
// GET /users/me/wards — пустой список допустим и означает терминальное
// состояние "нет доступных отделений", не повод для повторов.
func (c *Client) Wards(ctx context.Context, tokens TokenProvider) ([]model.Ward, error) {
	var resp wardsResponse
	if err := c.get(ctx, "/users/me/wards", tokens, autherr.KindWardFetchFailed, &resp); err != nil {
		return nil, err
	}
	return resp.Wards, nil
}

// get выполняет авторизованный GET и маппит результат в таксономию.
// failKind — класс ошибки для сетевых/5xx сбоев данного вызова.
func (c *Client) get(ctx context.Context, path string, tokens TokenProvider, failKind autherr.Kind, out any) error {
	raw, ok := tokens()
	if !ok {
		return autherr.New(autherr.KindCredentialExpired, "please log in", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return autherr.New(failKind, "request build failed", err)
	}
	req.Header.Set("Authorization", "Bearer "+raw)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return autherr.New(failKind, "backend unreachable", fmt.Errorf("GET %s: %w", path, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// разбор ниже
	case resp.StatusCode == http.StatusUnauthorized:
		// 401 на аутентифицированном запросе — сессия истекла.
		// Без автоматического повтора: ровно один ClearSession + redirect
		// на login выполняет вызывающий слой.
		c.logger.Info("Backend вернул 401, сессия истекла",
			slog.String("path", path),
		)
		return autherr.New(autherr.KindSessionExpired, "session expired, please log in", nil)
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		// Постоянный отказ: повтор того же запроса даст тот же ответ
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return autherr.New(autherr.KindBackendRejected, "backend error",
			fmt.Errorf("GET %s: статус %d: %s", path, resp.StatusCode, string(body)))
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return autherr.New(failKind, "backend error",
			fmt.Errorf("GET %s: статус %d: %s", path, resp.StatusCode, string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return autherr.New(failKind, "backend response malformed", fmt.Errorf("GET %s: %w", path, err))
	}
	return nil
}
