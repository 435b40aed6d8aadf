package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-extras/cobraflags"
	"github.com/spf13/cobra"

	"github.com/bigkaa/project-assistant/internal/apiclient"
	"github.com/bigkaa/project-assistant/internal/config"
	"github.com/bigkaa/project-assistant/internal/database"
)

const (
	userIDFlag      = "user-id"
	newPasswordFlag = "new-password"
	projectIDFlag   = "project-id"
	messageFlag     = "message"
	sessionIDFlag   = "session-id"
)

var setPasswordFlags = map[string]cobraflags.Flag{
	userIDFlag: &cobraflags.StringFlag{
		Name:  userIDFlag,
		Usage: "ID пользователя, которому меняется пароль (обязательно)",
	},
	newPasswordFlag: &cobraflags.StringFlag{
		Name:  newPasswordFlag,
		Usage: "Новый пароль (обязательно)",
	},
}

var watchFlags = map[string]cobraflags.Flag{
	projectIDFlag: &cobraflags.StringFlag{
		Name:  projectIDFlag,
		Usage: "Только уведомления проекта",
	},
}

var chatFlags = map[string]cobraflags.Flag{
	messageFlag: &cobraflags.StringFlag{
		Name:  messageFlag,
		Usage: "Текст сообщения (обязательно)",
	},
	sessionIDFlag: &cobraflags.StringFlag{
		Name:  sessionIDFlag,
		Usage: "ID сессии чата для продолжения диалога",
	},
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Применить миграции БД",
		Long: `Применяет миграции PostgreSQL с конфигурацией сервера.
Читает те же переменные окружения, что и project-assistant (DB_HOST, DB_NAME и т.д.).`,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("загрузка конфигурации: %w", err)
			}
			logger := config.SetupLogger(cfg)
			if err := database.Migrate(cfg, logger); err != nil {
				return err
			}
			fmt.Println("Миграции применены")
			return nil
		},
	}
}

func newSetPasswordCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-password",
		Short: "Установить пароль пользователя (system_admin)",
		Long: `Меняет пароль пользователя через административный API.
Вход выполняется под --login/--password; учётная запись должна иметь роль system_admin.`,
		Example: `  pactl set-password --login root --password '***' --user-id 6f1c... --new-password 'Secret#123'`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID := setPasswordFlags[userIDFlag].GetString()
			newPassword := setPasswordFlags[newPasswordFlag].GetString()
			if userID == "" || newPassword == "" {
				return errors.New("флаги --user-id и --new-password обязательны")
			}

			client, err := signIn(cmd.Context())
			if err != nil {
				return err
			}
			if err := client.SetUserPassword(cmd.Context(), userID, newPassword); err != nil {
				return err
			}
			fmt.Println("Пароль изменён")
			return nil
		},
	}
	cobraflags.RegisterMap(cmd, setPasswordFlags)
	return cmd
}

func newNotificationsCommand() *cobra.Command {
	notifications := &cobra.Command{
		Use:   "notifications",
		Short: "Уведомления пользователя",
	}

	watch := &cobra.Command{
		Use:   "watch",
		Short: "Следить за уведомлениями до прерывания",
		Long: `Выполняет вход и опрашивает уведомления с интервалами, опубликованными сервером.
Каждое обновление печатается в stdout одной строкой JSON. Ctrl+C завершает работу.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client, err := signIn(ctx)
			if err != nil {
				return err
			}

			var cfg apiclient.SchedulerConfig
			if projectID := watchFlags[projectIDFlag].GetString(); projectID != "" {
				cfg.ProjectID = &projectID
			}
			scheduler := apiclient.NewScheduler(client, cfg, cliLogger())

			enc := json.NewEncoder(os.Stdout)
			scheduler.Subscribe(func(u apiclient.Update) {
				_ = enc.Encode(map[string]any{
					"time":          time.Now().Format(time.RFC3339),
					"full":          u.Full,
					"unreadCount":   u.UnreadCount,
					"notifications": u.Notifications,
				})
			})
			client.Session().OnUnauthorized(stop)

			if err := scheduler.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			scheduler.Stop()

			if client.Session().Token() == "" {
				return errors.New("сессия завершена сервером, выполните вход повторно")
			}
			return nil
		},
	}
	cobraflags.RegisterMap(watch, watchFlags)

	notifications.AddCommand(watch)
	return notifications
}

func newChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Отправить сообщение ассистенту",
		RunE: func(cmd *cobra.Command, _ []string) error {
			message := chatFlags[messageFlag].GetString()
			if message == "" {
				return errors.New("флаг --message обязателен")
			}

			client, err := signIn(cmd.Context())
			if err != nil {
				return err
			}
			resp, err := client.Chat(cmd.Context(), message, chatFlags[sessionIDFlag].GetString())
			if err != nil {
				return err
			}
			fmt.Println(string(resp))
			return nil
		},
	}
	cobraflags.RegisterMap(cmd, chatFlags)
	return cmd
}

// signIn выполняет вход. При включённой 2FA код берётся из --code;
// без него код отправляется на почту и команда завершается с подсказкой.
func signIn(ctx context.Context) (*apiclient.Client, error) {
	if login == "" || password == "" {
		return nil, errors.New("флаги --login и --password обязательны (или PA_LOGIN/PA_PASSWORD)")
	}

	client := apiclient.New(apiURL, nil, cliLogger())
	flow := apiclient.NewAuthFlow(client, 0)

	resp, err := flow.Login(ctx, login, password)
	if err != nil {
		return nil, fmt.Errorf("вход: %w", err)
	}
	if !resp.RequiresTwoFactor {
		return client, nil
	}

	if code == "" {
		if _, err := flow.SendTwoFactor(ctx); err != nil {
			var cooldown *apiclient.CooldownError
			if !errors.As(err, &cooldown) {
				return nil, fmt.Errorf("отправка кода: %w", err)
			}
		}
		return nil, errors.New("код подтверждения отправлен на email, повторите команду с --code")
	}
	if _, err := flow.VerifyTwoFactor(ctx, code); err != nil {
		return nil, fmt.Errorf("подтверждение кода: %w", err)
	}
	return client, nil
}
