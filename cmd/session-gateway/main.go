// Точка входа Session Gateway — сессионный шлюз клиентского приложения
// препаратной логистики. Загружает конфигурацию, подключается к PostgreSQL,
// применяет миграции, создаёт identity endpoints и JWKS-валидатор,
// backend-клиент, репозитории и handlers, запускает topologymetrics
// и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/baymed/medlogistics/session-gateway/internal/backend"
	"github.com/baymed/medlogistics/session-gateway/internal/config"
	"github.com/baymed/medlogistics/session-gateway/internal/database"
	"github.com/baymed/medlogistics/session-gateway/internal/httpapi/handlers"
	"github.com/baymed/medlogistics/session-gateway/internal/httpapi/middleware"
	"github.com/baymed/medlogistics/session-gateway/internal/identity"
	"github.com/baymed/medlogistics/session-gateway/internal/repository"
	"github.com/baymed/medlogistics/session-gateway/internal/server"
	"github.com/baymed/medlogistics/session-gateway/internal/service"
	"github.com/baymed/medlogistics/session-gateway/internal/session"
	"github.com/baymed/medlogistics/session-gateway/internal/token"
	"github.com/baymed/medlogistics/session-gateway/internal/ward"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Session Gateway запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("idp_mode", string(cfg.IdPMode)),
	)

	if os.Getenv("SG_SESSION_KEY") == "" {
		logger.Warn("SG_SESSION_KEY не задана: ключ шифрования cookie случайный, сессии не переживут рестарт")
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg.DatabaseDSN(), logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg.DatabaseDSN(), logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. OIDC endpoints identity provider
	endpoint := identity.NewEndpoint(identity.EndpointConfig{
		IdPURL:        cfg.IdPURL,
		BrowserIdPURL: cfg.BrowserIdPURL,
		Realm:         cfg.IdPRealm,
		ClientID:      cfg.IdPClientID,
		Audience:      cfg.IdPAudience,
		Timeout:       cfg.IdPClientTimeout,
	})
	logger.Info("Identity endpoints настроены",
		slog.String("issuer", endpoint.Issuer()),
		slog.String("mode", string(cfg.IdPMode)),
	)

	// 6. JWKS-валидатор токенов с фоновым обновлением ключей
	verifier, err := token.NewVerifier(
		cfg.JWTJWKSURL,
		cfg.JWTIssuer,
		&http.Client{Timeout: cfg.IdPClientTimeout},
		cfg.JWKSRefreshInterval,
		cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания JWKS-валидатора", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWKS-валидатор инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 7. Backend-клиент REST API препаратной логистики
	backendClient, err := backend.New(cfg.APIBaseURL, cfg.APICACertPath, logger)
	if err != nil {
		logger.Error("Ошибка создания backend-клиента", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 8. Repositories
	selectionRepo := repository.NewWardSelectionRepository(pool)
	auditRepo := repository.NewLoginAuditRepository(pool)

	// 9. Сессии: шифрование cookie и Registry
	secureCookies := cfg.SecureCookies || strings.HasPrefix(cfg.PublicURL, "https")
	cookieMgr, err := session.NewManager(cfg.SessionKey, secureCookies)
	if err != nil {
		logger.Error("Ошибка создания менеджера cookie", slog.String("error", err.Error()))
		os.Exit(1)
	}
	registry := session.NewRegistry()
	middleware.RegisterActiveSessions(registry.Len)

	// 10. Резолвер отделений
	resolver := ward.NewResolver(backendClient, selectionRepo, logger)

	// 11. topologymetrics — мониторинг зависимостей (PostgreSQL + IdP + API)
	dephealthSvc, dephealthErr := service.NewDephealthService(
		cfg.DephealthServiceID,
		cfg.DephealthGroup,
		pgDB,
		cfg.DatabaseDSN(),
		cfg.JWTJWKSURL,
		backendClient.BaseURL(),
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			defer dephealthSvc.Stop()
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 12. Handlers и middleware
	loginLimiter := middleware.NewLoginRateLimiter(cfg.LoginRatePerSecond, cfg.LoginRateBurst)
	defer loginLimiter.Close()

	deps := server.Deps{
		Auth: handlers.NewAuthHandler(
			cfg.IdPMode, endpoint, backendClient,
			registry, cookieMgr, verifier, auditRepo,
			strings.TrimRight(cfg.PublicURL, "/"), logger,
		),
		Wards:        handlers.NewWardsHandler(resolver, registry, cookieMgr, auditRepo, logger),
		Admin:        handlers.NewAdminHandler(auditRepo, logger),
		Health:       handlers.NewHealthHandler(database.NewReadinessChecker(pool), logger),
		Sessions:     middleware.NewSessionLoader(cookieMgr, registry, backendClient, logger),
		Guard:        middleware.NewGuard(logger),
		LoginLimiter: loginLimiter,
	}

	// 13. HTTP-сервер с graceful shutdown
	srv := server.New(cfg, logger, deps)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка HTTP-сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
