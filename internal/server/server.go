// Пакет server - HTTP-сервер Project Assistant с graceful shutdown.
// Без TLS: HTTP внутри кластера, TLS termination на ingress.
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
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bigkaa/project-assistant/internal/api/handlers"
	"github.com/bigkaa/project-assistant/internal/api/middleware"
	"github.com/bigkaa/project-assistant/internal/config"
	"github.com/bigkaa/project-assistant/internal/domain/rbac"
)

// Server - HTTP-сервер Project Assistant.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными маршрутами и middleware.
func New(cfg *config.Config, logger *slog.Logger, h *handlers.APIHandler, jwtAuth *middleware.JWTAuth, authLimiter *middleware.RateLimiter) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(logger, h, jwtAuth, authLimiter),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает маршруты API.
// Health и metrics публичны. /api/auth/* ограничен по частоте запросов с IP;
// authLimiter nil отключает ограничение.
func NewRouter(logger *slog.Logger, h *handlers.APIHandler, jwtAuth *middleware.JWTAuth, authLimiter *middleware.RateLimiter) http.Handler {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(chimw.RealIP)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))
	router.Use(chimw.Recoverer)

	router.Get("/health/live", h.Health.HealthLive)
	router.Get("/health/ready", h.Health.HealthReady)
	router.Get("/metrics", h.Health.GetMetrics)

	router.Route("/api/auth", func(r chi.Router) {
		if authLimiter != nil {
			r.Use(authLimiter.Middleware())
		}
		r.Post("/login", h.Auth.Login)
		r.Post("/forgot-password", h.Auth.ForgotPassword)
		r.Get("/validate-reset-token/{token}", h.Auth.ValidateResetToken)
		r.Post("/reset-password", h.Auth.ResetPassword)
		r.Get("/password-requirements", h.Auth.PasswordRequirements)

		// Токен в ожидании 2FA допускается только здесь
		r.Group(func(r chi.Router) {
			r.Use(jwtAuth.AllowPending())
			r.Get("/me", h.Auth.Me)
			r.Post("/2fa/send", h.Auth.SendTwoFactor)
			r.Post("/2fa/verify", h.Auth.VerifyTwoFactor)
		})
	})

	router.Group(func(r chi.Router) {
		r.Use(jwtAuth.Middleware())

		r.Route("/api/notifications", func(r chi.Router) {
			r.Get("/", h.Notifications.List)
			r.Post("/", h.Notifications.Create)
			r.Delete("/", h.Notifications.ClearAll)
			r.Get("/config", h.Notifications.Config)
			r.Patch("/read-all", h.Notifications.MarkAllAsRead)
			r.Patch("/bulk", h.Notifications.Bulk)
			r.Patch("/{id}/read", h.Notifications.MarkAsRead)
			r.Get("/{id}/unread-count", h.Notifications.UnreadCount)
			r.Delete("/{id}", h.Notifications.Delete)
		})

		r.Route("/api/knowledge", func(r chi.Router) {
			r.Route("/folders", func(r chi.Router) {
				r.Get("/", h.Knowledge.ListFolders)
				r.Post("/", h.Knowledge.CreateFolder)
				r.Get("/tree", h.Knowledge.FolderTree)
				r.Post("/recount", h.Knowledge.RecountFolders)
				r.Get("/{id}", h.Knowledge.GetFolder)
				r.Patch("/{id}", h.Knowledge.UpdateFolder)
				r.Delete("/{id}", h.Knowledge.DeleteFolder)
			})
			r.Route("/documents", func(r chi.Router) {
				r.Get("/", h.Knowledge.ListDocuments)
				r.Post("/", h.Knowledge.CreateDocument)
				r.Get("/{id}", h.Knowledge.GetDocument)
				r.Put("/{id}", h.Knowledge.UpdateDocument)
				r.Delete("/{id}", h.Knowledge.DeleteDocument)
				r.Get("/{id}/versions", h.Knowledge.ListVersions)
				r.Get("/{id}/compare", h.Knowledge.CompareVersions)
			})
			r.Route("/agent-submissions", func(r chi.Router) {
				r.Get("/", h.Knowledge.ListSubmissions)
				r.Post("/", h.Knowledge.CreateSubmission)
				r.Post("/{id}/process", h.Knowledge.ProcessSubmission)
			})
		})

		r.Route("/api/n8n", func(r chi.Router) {
			r.Post("/chat", h.Chat.Chat)
			r.Get("/health", h.Chat.Health)
			r.Get("/config", h.Chat.Config)
		})

		r.Get("/api/projects", h.Admin.ListProjects)

		r.Route("/api/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(rbac.RoleSystemAdmin))
			r.Get("/users", h.Admin.ListUsers)
			r.Post("/users", h.Admin.CreateUser)
			r.Get("/users/{id}", h.Admin.GetUser)
			r.Patch("/users/{id}", h.Admin.UpdateUser)
			r.Post("/users/{id}/set-password", h.Admin.SetPassword)
			r.Post("/projects", h.Admin.CreateProject)
			r.Get("/projects/{id}/members", h.Admin.ListMembers)
			r.Put("/projects/{id}/members/{userId}", h.Admin.AddMember)
			r.Delete("/projects/{id}/members/{userId}", h.Admin.RemoveMember)
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

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
