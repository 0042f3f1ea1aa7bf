// Пакет server — HTTP-сервер Session Gateway с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/baymed/medlogistics/session-gateway/internal/config"
	"github.com/baymed/medlogistics/session-gateway/internal/dispatch"
	"github.com/baymed/medlogistics/session-gateway/internal/httpapi/handlers"
	"github.com/baymed/medlogistics/session-gateway/internal/httpapi/middleware"
)

// Deps — зависимости HTTP-сервера.
type Deps struct {
	Auth     *handlers.AuthHandler
	Wards    *handlers.WardsHandler
	Admin    *handlers.AdminHandler
	Health   *handlers.HealthHandler
	Sessions *middleware.SessionLoader
	Guard    *middleware.Guard
	// LoginLimiter — rate limiter попыток входа (nil — без лимита).
	LoginLimiter *middleware.LoginRateLimiter
}

// Server — HTTP-сервер Session Gateway.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
func New(cfg *config.Config, logger *slog.Logger, deps Deps) *Server {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))
	router.Use(deps.Sessions.Middleware())

	// Публичные endpoints: health-пробы и метрики
	router.Get("/health/live", deps.Health.Live)
	router.Get("/health/ready", deps.Health.Ready)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Вход: rate limit только на login-маршрутах
	router.Group(func(r chi.Router) {
		if deps.LoginLimiter != nil {
			r.Use(deps.LoginLimiter.Middleware())
		}
		r.Get("/login", deps.Auth.LoginPage)
		r.Post("/login", deps.Auth.Login)
		r.Get("/callback", deps.Auth.Callback)
	})

	router.Post("/logout", deps.Auth.Logout)
	router.Get("/logout", deps.Auth.Logout)

	// Интроспекция сессии — работает и без аутентификации
	router.Get("/session", handlers.Session)

	// Выбор отделения
	router.Get("/wards", deps.Wards.List)
	router.Post("/wards/select", deps.Wards.Select)

	// Рабочие деревья маршрутов, охраняемые Guard.
	// Решение принимается на каждый запрос по текущему снимку сессии.
	mountWorkspace(router, deps.Guard, "/doctor", dispatch.StateDoctorLayout)
	mountWorkspace(router, deps.Guard, "/pharmacist", dispatch.StatePharmacistLayout)
	mountWorkspace(router, deps.Guard, "/nurse", dispatch.StateNurseLayout)

	router.Route("/admin", func(r chi.Router) {
		r.Use(deps.Guard.Require(dispatch.StateAdminLayout))
		r.Get("/", handlers.Workspace(dispatch.StateAdminLayout))
		r.Get("/audit", deps.Admin.Audit)
		r.Get("/*", handlers.Workspace(dispatch.StateAdminLayout))
	})

	router.Route("/no-role", func(r chi.Router) {
		r.Use(deps.Guard.Require(dispatch.StateNoRole))
		r.Get("/", handlers.NoRole)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// mountWorkspace монтирует охраняемое дерево маршрутов роли.
func mountWorkspace(router chi.Router, guard *middleware.Guard, root string, state dispatch.State) {
	router.Route(root, func(r chi.Router) {
		r.Use(guard.Require(state))
		r.Get("/", handlers.Workspace(state))
		r.Get("/*", handlers.Workspace(state))
	})
}

// Handler возвращает корневой http.Handler (для httptest).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
