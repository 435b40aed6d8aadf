// Точка входа Project Assistant - backend SPA «Project Assistant Suite».
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// создаёт почтовый канал, клиент n8n и сервисный слой, запускает фоновые
// задачи (retention, topologymetrics) и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/project-assistant/internal/api/handlers"
	"github.com/bigkaa/project-assistant/internal/api/middleware"
	"github.com/bigkaa/project-assistant/internal/config"
	"github.com/bigkaa/project-assistant/internal/database"
	"github.com/bigkaa/project-assistant/internal/domain/diff"
	"github.com/bigkaa/project-assistant/internal/domain/password"
	"github.com/bigkaa/project-assistant/internal/mailer"
	"github.com/bigkaa/project-assistant/internal/n8n"
	"github.com/bigkaa/project-assistant/internal/repository"
	"github.com/bigkaa/project-assistant/internal/server"
	"github.com/bigkaa/project-assistant/internal/service"
	"github.com/bigkaa/project-assistant/internal/token"
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
	logger.Info("Project Assistant запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (проверка через пул)
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	store := repository.NewStore(pool)

	// 5. Почта: SMTP или журнал, если SMTP_HOST не задан
	var sender mailer.Sender
	if cfg.SMTPHost != "" {
		sender = mailer.NewSMTPSender(mailer.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
		logger.Info("Почта отправляется через SMTP", slog.String("host", cfg.SMTPHost))
	} else {
		sender = mailer.NewLogSender(logger)
		logger.Warn("SMTP_HOST не задан, письма только записываются в журнал")
	}
	mail := mailer.New(store.Repos().EmailTemplates, sender, logger)

	// 6. Выпуск токенов
	issuer := token.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL, cfg.TwoFactorPendingTTL)

	// 7. Services
	notificationSvc := service.NewNotificationService(store, service.PollingConfig{
		PollingInterval:     cfg.NotificationPollingInterval,
		FullRefreshInterval: cfg.NotificationFullRefreshInterval,
	}, logger).WithMailer(mail)

	authSvc, err := service.NewAuthService(store, issuer, mail, notificationSvc, service.AuthConfig{
		CodeTTL:          cfg.TwoFactorCodeTTL,
		ResendCooldown:   cfg.TwoFactorResendCooldown,
		MaxCodeAttempts:  cfg.TwoFactorMaxAttempts,
		LoginMaxAttempts: cfg.LoginMaxAttempts,
		LoginWindow:      cfg.LoginWindow,
		ResetTokenTTL:    cfg.ResetTokenTTL,
		AppURL:           cfg.AppURL,
		Policy:           password.Policy(cfg.PasswordPolicy),
	}, logger)
	if err != nil {
		logger.Error("Ошибка создания сервиса аутентификации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	knowledgeSvc := service.NewKnowledgeService(store, notificationSvc, diff.NewRuleBasedProvider(), service.KnowledgeConfig{
		MaxDepth:       cfg.FolderMaxDepth,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, logger)

	n8nClient, err := n8n.New(n8n.Config{
		BaseURL:     cfg.N8NBaseURL,
		WebhookPath: cfg.N8NWebhookPath,
		Timeout:     cfg.N8NTimeout,
		CACertPath:  cfg.N8NCACertPath,
	}, logger)
	if err != nil {
		logger.Error("Ошибка создания клиента n8n", slog.String("error", err.Error()))
		os.Exit(1)
	}
	chatSvc := service.NewChatService(n8nClient, logger)
	logger.Info("Клиент n8n создан", slog.String("webhook_url", cfg.N8NWebhookURL()))

	adminSvc := service.NewAdminService(store, authSvc, logger)

	// 8. Фоновая очистка прочитанных уведомлений
	retentionSvc := service.NewRetentionService(
		store.Repos().Notifications,
		cfg.NotificationRetentionDays, cfg.RetentionInterval,
		logger,
	)
	retentionSvc.Start(ctx)
	defer retentionSvc.Stop()

	// 9. topologymetrics - мониторинг зависимостей (PostgreSQL + n8n)
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     "project-assistant",
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PostgresURL:   cfg.DatabaseURL(),
		N8NBaseURL:    cfg.N8NBaseURL,
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
		defer dephealthSvc.Stop()
	}

	// 10. API handlers
	apiHandler := &handlers.APIHandler{
		Health:        handlers.NewHealthHandler(database.NewReadinessChecker(pool), chatSvc),
		Auth:          handlers.NewAuthHandler(authSvc, logger),
		Notifications: handlers.NewNotificationHandler(notificationSvc, logger),
		Knowledge:     handlers.NewKnowledgeHandler(knowledgeSvc, cfg.MaxUploadBytes, logger),
		Chat:          handlers.NewChatHandler(chatSvc, logger),
		Admin:         handlers.NewAdminHandler(adminSvc, logger),
	}

	// 11. JWT middleware: роль и активность пользователя берутся из БД на каждый запрос
	jwtAuth := middleware.NewJWTAuth(issuer, authSvc, logger)
	authLimiter := middleware.NewRateLimiter(cfg.AuthRateLimitRPS, cfg.AuthRateLimitBurst, logger)

	// 12. HTTP-сервер
	srv := server.New(cfg, logger, apiHandler, jwtAuth, authLimiter)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Project Assistant остановлен")
}
