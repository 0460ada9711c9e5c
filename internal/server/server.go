// Пакет server — HTTP-сервер Quote Module с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/quote-module/internal/api/errors"
	"github.com/bigkaa/goartstore/quote-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/quote-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/quote-module/internal/config"
)

// Authenticator — JWT-аутентификация запросов.
// Реализуется *middleware.JWTAuth.
type Authenticator interface {
	// Middleware требует валидный Bearer-токен.
	Middleware() func(http.Handler) http.Handler
	// OptionalMiddleware пропускает запросы без токена как анонимные.
	OptionalMiddleware() func(http.Handler) http.Handler
}

// Server — HTTP-сервер Quote Module.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
func New(cfg *config.Config, logger *slog.Logger, handler *handlers.APIHandler, auth Authenticator) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(logger, handler, auth),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter регистрирует маршруты API.
//
//	/health/*, /metrics, /public-objects/*  — без аутентификации
//	/objects/*                              — токен опционален
//	/api/*                                  — токен обязателен
//	/api/admin/*                            — только администратор
func NewRouter(logger *slog.Logger, h *handlers.APIHandler, auth Authenticator) http.Handler {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	router.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		apierrors.NotFound(w, "Маршрут не найден")
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		apierrors.WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Метод не поддерживается")
	})

	// Health и metrics проверяются Kubernetes напрямую, без API Gateway.
	router.Get("/health/live", h.HealthLive)
	router.Get("/health/ready", h.HealthReady)
	router.Get("/metrics", h.GetMetrics)

	router.Get("/public-objects/*", h.GetPublicObject)
	router.With(auth.OptionalMiddleware()).Get("/objects/*", h.GetObject)

	router.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware())

		r.Post("/objects/upload", h.RequestUpload)
		r.Put("/objects/acl", h.AttachPolicy)

		r.Post("/quotes", h.CreateQuote)
		r.Get("/quotes/{id}", h.GetQuote)
		r.Get("/quotes/{id}/history", h.ListQuoteHistory)
		r.Get("/quotes/{id}/files", h.ListQuoteFiles)
		r.Get("/quotes/{id}/files/{fileID}/download-url", h.GetQuoteFileDownloadURL)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin())

			r.Put("/quotes/{id}/status", h.UpdateQuoteStatus)
			r.Put("/quotes/{id}/price", h.UpdateQuotePrice)

			r.Get("/access-groups/{groupID}/members", h.ListGroupMembers)
			r.Put("/access-groups/{groupID}/members/{userID}", h.AddGroupMember)
			r.Delete("/access-groups/{groupID}/members/{userID}", h.RemoveGroupMember)
		})
	})

	return router
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
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

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
