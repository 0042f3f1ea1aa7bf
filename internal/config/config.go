// Пакет config — загрузка и валидация конфигурации Session Gateway
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/baymed/medlogistics/session-gateway/internal/identity"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Session Gateway.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Внешний базовый URL gateway (для redirect URI и post-logout)
	PublicURL string

	// --- PostgreSQL ---

	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Имя пользователя PostgreSQL
	DBUser string
	// Пароль пользователя PostgreSQL
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Identity provider ---

	// Вариант провайдера: redirect или password
	IdPMode identity.Mode
	// Базовый URL IdP для backend-запросов
	IdPURL string
	// Внешний URL IdP для browser redirects (пустой — IdPURL)
	BrowserIdPURL string
	// Имя realm
	IdPRealm string
	// OIDC Client ID (public client)
	IdPClientID string
	// Audience запрошенных токенов (опционально)
	IdPAudience string
	// Таймаут HTTP-запросов к IdP
	IdPClientTimeout time.Duration

	// --- Backend REST API ---

	// Базовый URL REST backend'а препаратной логистики
	APIBaseURL string
	// Путь к CA-сертификату для TLS-соединений с backend (опционально)
	APICACertPath string

	// --- JWT-валидация ---

	// Issuer JWT (авто-вычисляется из IdPURL, если не задан)
	JWTIssuer string
	// URL JWKS endpoint (авто-вычисляется из IdPURL, если не задан)
	JWTJWKSURL string
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration

	// --- Сессии ---

	// Ключ шифрования cookie сессий (пустой — случайный на рестарт)
	SessionKey string
	// Secure flag для cookies (true для HTTPS)
	SecureCookies bool

	// --- Rate limiting login ---

	// Запросов login в секунду на клиента
	LoginRatePerSecond float64
	// Burst-ёмкость лимитера login
	LoginRateBurst int

	// --- Dephealth ---

	// Имя вершины графа приложения в topologymetrics
	DephealthServiceID string
	// Имя группы в метриках
	DephealthGroup string
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// SG_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("SG_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("SG_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("SG_PORT: значение %d вне допустимого диапазона", cfg.Port)
	}

	// SG_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("SG_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("SG_LOG_LEVEL: %w", err)
	}

	// SG_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("SG_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("SG_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// SG_PUBLIC_URL — внешний URL gateway (по умолчанию по порту)
	cfg.PublicURL = getEnvDefault("SG_PUBLIC_URL", fmt.Sprintf("http://localhost:%d", cfg.Port))

	// --- PostgreSQL ---

	// SG_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("SG_DB_HOST")
	if err != nil {
		return nil, err
	}

	// SG_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DBPort, err = getEnvInt("SG_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("SG_DB_PORT: %w", err)
	}

	// SG_DB_NAME — обязательный
	cfg.DBName, err = getEnvRequired("SG_DB_NAME")
	if err != nil {
		return nil, err
	}

	// SG_DB_USER — обязательный
	cfg.DBUser, err = getEnvRequired("SG_DB_USER")
	if err != nil {
		return nil, err
	}

	// SG_DB_PASSWORD — обязательный
	cfg.DBPassword, err = getEnvRequired("SG_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	// SG_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("SG_DB_SSL_MODE", "disable")
	switch cfg.DBSSLMode {
	case "disable", "require", "verify-ca", "verify-full":
	default:
		return nil, fmt.Errorf("SG_DB_SSL_MODE: недопустимое значение %q", cfg.DBSSLMode)
	}

	// --- Identity provider ---

	// SG_IDP_MODE — вариант провайдера (по умолчанию redirect)
	mode := getEnvDefault("SG_IDP_MODE", "redirect")
	switch identity.Mode(mode) {
	case identity.ModeRedirect, identity.ModePassword:
		cfg.IdPMode = identity.Mode(mode)
	default:
		return nil, fmt.Errorf("SG_IDP_MODE: недопустимое значение %q, допустимые: redirect, password", mode)
	}

	// SG_IDP_URL — обязательный
	cfg.IdPURL, err = getEnvRequired("SG_IDP_URL")
	if err != nil {
		return nil, err
	}
	cfg.IdPURL = strings.TrimRight(cfg.IdPURL, "/")

	// SG_BROWSER_IDP_URL — внешний URL IdP (по умолчанию SG_IDP_URL)
	cfg.BrowserIdPURL = strings.TrimRight(getEnvDefault("SG_BROWSER_IDP_URL", ""), "/")

	// SG_IDP_REALM — имя realm (по умолчанию medlog)
	cfg.IdPRealm = getEnvDefault("SG_IDP_REALM", "medlog")

	// SG_IDP_CLIENT_ID — обязательный
	cfg.IdPClientID, err = getEnvRequired("SG_IDP_CLIENT_ID")
	if err != nil {
		return nil, err
	}

	// SG_IDP_AUDIENCE — audience токенов (опционально)
	cfg.IdPAudience = getEnvDefault("SG_IDP_AUDIENCE", "")

	// SG_IDP_CLIENT_TIMEOUT — таймаут запросов к IdP (по умолчанию 30s)
	cfg.IdPClientTimeout, err = getEnvDuration("SG_IDP_CLIENT_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SG_IDP_CLIENT_TIMEOUT: %w", err)
	}

	// --- Backend REST API ---

	// SG_API_BASE_URL — обязательный
	cfg.APIBaseURL, err = getEnvRequired("SG_API_BASE_URL")
	if err != nil {
		return nil, err
	}

	// SG_API_CA_CERT_PATH — CA для TLS с backend (опционально)
	cfg.APICACertPath = getEnvDefault("SG_API_CA_CERT_PATH", "")

	// --- JWT-валидация ---

	realmURL := fmt.Sprintf("%s/realms/%s", cfg.IdPURL, cfg.IdPRealm)

	// SG_JWT_ISSUER — issuer JWT (по умолчанию realm URL)
	cfg.JWTIssuer = getEnvDefault("SG_JWT_ISSUER", realmURL)

	// SG_JWT_JWKS_URL — JWKS endpoint (по умолчанию из realm URL)
	cfg.JWTJWKSURL = getEnvDefault("SG_JWT_JWKS_URL", realmURL+"/protocol/openid-connect/certs")

	// SG_JWKS_REFRESH_INTERVAL — интервал обновления ключей (по умолчанию 1h)
	cfg.JWKSRefreshInterval, err = getEnvDuration("SG_JWKS_REFRESH_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("SG_JWKS_REFRESH_INTERVAL: %w", err)
	}

	// SG_JWT_LEEWAY — допустимое отклонение времени (по умолчанию 30s)
	cfg.JWTLeeway, err = getEnvDuration("SG_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SG_JWT_LEEWAY: %w", err)
	}

	// --- Сессии ---

	// SG_SESSION_KEY — ключ шифрования cookie (опционально)
	cfg.SessionKey = getEnvDefault("SG_SESSION_KEY", "")

	// SG_SECURE_COOKIES — Secure flag (по умолчанию false)
	cfg.SecureCookies, err = getEnvBool("SG_SECURE_COOKIES", false)
	if err != nil {
		return nil, fmt.Errorf("SG_SECURE_COOKIES: %w", err)
	}

	// --- Rate limiting ---

	// SG_LOGIN_RATE_PER_SECOND — запросов login в секунду (по умолчанию 1)
	cfg.LoginRatePerSecond, err = getEnvFloat("SG_LOGIN_RATE_PER_SECOND", 1)
	if err != nil {
		return nil, fmt.Errorf("SG_LOGIN_RATE_PER_SECOND: %w", err)
	}

	// SG_LOGIN_RATE_BURST — burst лимитера login (по умолчанию 5)
	cfg.LoginRateBurst, err = getEnvInt("SG_LOGIN_RATE_BURST", 5)
	if err != nil {
		return nil, fmt.Errorf("SG_LOGIN_RATE_BURST: %w", err)
	}

	// --- Dephealth ---

	// SG_DEPHEALTH_SERVICE_ID — имя вершины графа (по умолчанию session-gateway)
	cfg.DephealthServiceID = getEnvDefault("SG_DEPHEALTH_SERVICE_ID", "session-gateway")

	// SG_DEPHEALTH_GROUP — имя группы (по умолчанию medlogistics)
	cfg.DephealthGroup = getEnvDefault("SG_DEPHEALTH_GROUP", "medlogistics")

	// SG_DEPHEALTH_CHECK_INTERVAL — интервал проверок (по умолчанию 30s)
	cfg.DephealthCheckInterval, err = getEnvDuration("SG_DEPHEALTH_CHECK_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SG_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	// SG_SHUTDOWN_TIMEOUT — таймаут shutdown (по умолчанию 10s)
	cfg.ShutdownTimeout, err = getEnvDuration("SG_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SG_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN формирует DSN подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger создаёт slog.Logger согласно конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// parseLogLevel разбирает уровень логирования.
func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("недопустимый уровень логирования %q", raw)
	}
}

// getEnvDefault возвращает значение переменной или default.
func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getEnvRequired возвращает значение обязательной переменной.
func getEnvRequired(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("%s: обязательная переменная не задана", key)
	}
	return v, nil
}

// getEnvInt разбирает целочисленную переменную.
func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("недопустимое целое %q", v)
	}
	return n, nil
}

// getEnvFloat разбирает вещественную переменную.
func getEnvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("недопустимое число %q", v)
	}
	return f, nil
}

// getEnvBool разбирает булеву переменную.
func getEnvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("недопустимое булево %q", v)
	}
	return b, nil
}

// getEnvDuration разбирает переменную-длительность (формат time.ParseDuration).
func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("недопустимая длительность %q", v)
	}
	if d <= 0 {
		return 0, fmt.Errorf("длительность должна быть положительной, получено %q", v)
	}
	return d, nil
}
