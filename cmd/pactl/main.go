// pactl - консольная утилита оператора Project Assistant.
// Применяет миграции, меняет пароли пользователей, следит за уведомлениями
// и отправляет сообщения в чат через API.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Общие флаги доступа к API.
var (
	apiURL   string
	login    string
	password string
	code     string
	logLevel string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ошибка: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "pactl",
		Short:         "Утилита оператора Project Assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultURL := os.Getenv("PA_API_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:3001"
	}
	pf := root.PersistentFlags()
	pf.StringVar(&apiURL, "api-url", defaultURL, "Базовый URL API (по умолчанию из PA_API_URL)")
	pf.StringVar(&login, "login", os.Getenv("PA_LOGIN"), "Email или имя пользователя")
	pf.StringVar(&password, "password", os.Getenv("PA_PASSWORD"), "Пароль пользователя")
	pf.StringVar(&code, "code", "", "Код двухфакторной аутентификации из письма")
	pf.StringVar(&logLevel, "log-level", "warn", "Уровень журнала (debug, info, warn, error)")

	root.AddCommand(
		newMigrateCommand(),
		newSetPasswordCommand(),
		newNotificationsCommand(),
		newChatCommand(),
	)
	return root
}

// cliLogger - текстовый журнал в stderr, чтобы не смешивать его с выводом команд.
func cliLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
