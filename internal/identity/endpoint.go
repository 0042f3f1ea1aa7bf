// endpoint.go — OIDC endpoints identity provider и обмен с token endpoint.
// Backend URL (token exchange) и browser URL (authorize/logout redirects)
// могут различаться: backend — внутренний cluster DNS, browser — внешний
// URL через API Gateway.
package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Endpoint — адреса OIDC endpoints и HTTP-клиент, общие для провайдеров.
type Endpoint struct {
	// clientID — OIDC Client ID (public client, без client_secret).
	clientID string
	// audience — опциональный audience параметр token-запросов.
	audience string
	// authorizeURL — endpoint авторизации (browser redirect).
	authorizeURL string
	// tokenURL — endpoint обмена credentials/code → tokens.
	tokenURL string
	// logoutURL — endpoint logout (browser redirect).
	logoutURL string
	// issuer — issuer URL (realm URL).
	issuer string
	// httpClient — HTTP-клиент для token endpoint.
	httpClient *http.Client
}

// EndpointConfig — конфигурация OIDC endpoints.
type EndpointConfig struct {
	// IdPURL — базовый URL identity provider для backend-запросов.
	IdPURL string
	// BrowserIdPURL — внешний URL IdP для browser redirects.
	// Если пустой — используется IdPURL.
	BrowserIdPURL string
	// Realm — имя realm.
	Realm string
	// ClientID — OIDC Client ID.
	ClientID string
	// Audience — audience запрошенных токенов (опционально).
	Audience string
	// HTTPClient — HTTP-клиент (nil — создаётся новый с Timeout).
	HTTPClient *http.Client
	// Timeout — таймаут HTTP-запросов при HTTPClient == nil.
	Timeout time.Duration
}

// NewEndpoint строит адреса OIDC endpoints на основе конфигурации.
func NewEndpoint(cfg EndpointConfig) *Endpoint {
	backendRealmURL := fmt.Sprintf("%s/realms/%s", strings.TrimRight(cfg.IdPURL, "/"), cfg.Realm)
	backendOIDCBase := backendRealmURL + "/protocol/openid-connect"

	browserIdPURL := cfg.BrowserIdPURL
	if browserIdPURL == "" {
		browserIdPURL = cfg.IdPURL
	}
	browserOIDCBase := fmt.Sprintf("%s/realms/%s/protocol/openid-connect", strings.TrimRight(browserIdPURL, "/"), cfg.Realm)

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Endpoint{
		clientID:     cfg.ClientID,
		audience:     cfg.Audience,
		authorizeURL: browserOIDCBase + "/auth",
		tokenURL:     backendOIDCBase + "/token",
		logoutURL:    browserOIDCBase + "/logout",
		issuer:       backendRealmURL,
		httpClient:   httpClient,
	}
}

// Issuer возвращает issuer URL (realm URL) для валидации токенов.
func (e *Endpoint) Issuer() string {
	return e.issuer
}

// TokenResponse — ответ token endpoint.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	IDToken      string `json:"id_token"`
}

// TokenError — ошибка token endpoint.
type TokenError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

// httpStatusError — не-2xx ответ token endpoint с разобранным телом.
type httpStatusError struct {
	status   int
	tokenErr *TokenError
	body     string
}

func (e *httpStatusError) Error() string {
	if e.tokenErr != nil {
		return fmt.Sprintf("token endpoint вернул статус %d: %s — %s", e.status, e.tokenErr.Code, e.tokenErr.Description)
	}
	return fmt.Sprintf("token endpoint вернул статус %d: %s", e.status, e.body)
}

// PKCEParams — параметры PKCE одного auth flow.
type PKCEParams struct {
	// CodeVerifier — случайная строка (хранится в state cookie).
	CodeVerifier string
	// CodeChallenge — base64url(SHA-256(code_verifier)).
	CodeChallenge string
}

// GeneratePKCE генерирует пару code_verifier / code_challenge (S256).
func GeneratePKCE() (*PKCEParams, error) {
	verifierBytes := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, verifierBytes); err != nil {
		return nil, fmt.Errorf("ошибка генерации code_verifier: %w", err)
	}
	codeVerifier := base64.RawURLEncoding.EncodeToString(verifierBytes)

	hash := sha256.Sum256([]byte(codeVerifier))
	codeChallenge := base64.RawURLEncoding.EncodeToString(hash[:])

	return &PKCEParams{
		CodeVerifier:  codeVerifier,
		CodeChallenge: codeChallenge,
	}, nil
}

// GenerateState генерирует случайный state parameter для CSRF-защиты.
func GenerateState() (string, error) {
	stateBytes := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, stateBytes); err != nil {
		return "", fmt.Errorf("ошибка генерации state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(stateBytes), nil
}

// AuthorizeURL формирует URL redirect пользователя на hosted login.
func (e *Endpoint) AuthorizeURL(redirectURI, state, codeChallenge string) string {
	params := url.Values{
		"client_id":             {e.clientID},
		"response_type":         {"code"},
		"redirect_uri":          {redirectURI},
		"state":                 {state},
		"scope":                 {"openid profile email roles"},
		"code_challenge":        {codeChallenge},
		"code_challenge_method": {"S256"},
	}
	if e.audience != "" {
		params.Set("audience", e.audience)
	}
	return e.authorizeURL + "?" + params.Encode()
}

// LogoutURL формирует URL redirect пользователя на logout IdP.
func (e *Endpoint) LogoutURL(idTokenHint, postLogoutRedirectURI string) string {
	params := url.Values{
		"client_id":                {e.clientID},
		"post_logout_redirect_uri": {postLogoutRedirectURI},
	}
	if idTokenHint != "" {
		params.Set("id_token_hint", idTokenHint)
	}
	return e.logoutURL + "?" + params.Encode()
}

// ExchangeCode обменивает authorization code на tokens.
func (e *Endpoint) ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {e.clientID},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"code_verifier": {codeVerifier},
	}
	return e.doTokenRequest(ctx, data)
}

// ExchangePassword выполняет resource-owner-password grant.
// Форма запроса: client_id, username, password, grant_type=password.
func (e *Endpoint) ExchangePassword(ctx context.Context, username, password string) (*TokenResponse, error) {
	data := url.Values{
		"grant_type": {"password"},
		"client_id":  {e.clientID},
		"username":   {username},
		"password":   {password},
	}
	if e.audience != "" {
		data.Set("audience", e.audience)
	}
	return e.doTokenRequest(ctx, data)
}

// doTokenRequest выполняет POST form-encoded запрос к token endpoint.
// Не-2xx ответ возвращается как httpStatusError с разобранным телом.
func (e *Endpoint) doTokenRequest(ctx context.Context, data url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса к token endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения ответа: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := &httpStatusError{status: resp.StatusCode, body: string(body)}
		var tokenErr TokenError
		if jsonErr := json.Unmarshal(body, &tokenErr); jsonErr == nil && tokenErr.Code != "" {
			statusErr.tokenErr = &tokenErr
		}
		return nil, statusErr
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("ошибка парсинга token response: %w", err)
	}

	return &tokenResp, nil
}
