// Пакет config - загрузка и валидация конфигурации Project Assistant
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Минимальная длина секрета подписи JWT (HS256).
const minJWTSecretLen = 32

// Config содержит все параметры конфигурации Project Assistant.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Базовый URL SPA (для ссылок в письмах)
	AppURL string
	// Максимальный размер загружаемого документа
	MaxUploadBytes int64

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Токены и аутентификация ---

	// Секрет подписи JWT (HS256)
	JWTSecret string
	// Issuer JWT
	JWTIssuer string
	// Время жизни полного токена
	JWTTTL time.Duration
	// Время жизни токена в состоянии ожидания 2FA
	TwoFactorPendingTTL time.Duration
	// Время жизни одноразового кода 2FA
	TwoFactorCodeTTL time.Duration
	// Минимальный интервал между повторными отправками кода
	TwoFactorResendCooldown time.Duration
	// Число неверных попыток, после которого код сгорает
	TwoFactorMaxAttempts int
	// Число неудачных входов за окно LoginWindow до блокировки
	LoginMaxAttempts int
	// Окно подсчёта неудачных входов
	LoginWindow time.Duration
	// Время жизни токена сброса пароля
	ResetTokenTTL time.Duration
	// Лимит запросов к /api/auth/* с одного IP (в секунду) и размер всплеска
	AuthRateLimitRPS   float64
	AuthRateLimitBurst int

	// --- Политика паролей ---

	PasswordPolicy PasswordPolicyConfig

	// --- Уведомления ---

	// Интервал короткого опроса (публикуется клиентам)
	NotificationPollingInterval time.Duration
	// Интервал полного обновления (публикуется клиентам)
	NotificationFullRefreshInterval time.Duration
	// Срок хранения прочитанных уведомлений до мягкого удаления
	NotificationRetentionDays int
	// Период запуска задачи retention
	RetentionInterval time.Duration

	// --- База знаний ---

	// Ограничение глубины дерева папок
	FolderMaxDepth int

	// --- n8n ---

	// Базовый URL n8n
	N8NBaseURL string
	// Путь webhook чата
	N8NWebhookPath string
	// Таймаут запросов к n8n
	N8NTimeout time.Duration
	// Путь к CA-сертификату n8n (опционально)
	N8NCACertPath string

	// --- SMTP ---

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string

	// --- Мониторинг зависимостей ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// PasswordPolicyConfig - требования к паролю, публикуемые клиентам.
type PasswordPolicyConfig struct {
	MinLength           int
	RequireUppercase    bool
	RequireLowercase    bool
	RequireNumbers      bool
	RequireSpecialChars bool
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("PA_PORT", 3001)
	if err != nil {
		return nil, fmt.Errorf("PA_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("PA_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("PA_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("PA_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("PA_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("PA_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.AppURL = strings.TrimRight(getEnvDefault("PA_APP_URL", "http://localhost:5173"), "/")

	maxUpload, err := getEnvInt("PA_MAX_UPLOAD_BYTES", 20<<20)
	if err != nil {
		return nil, fmt.Errorf("PA_MAX_UPLOAD_BYTES: %w", err)
	}
	if maxUpload < 1 {
		return nil, fmt.Errorf("PA_MAX_UPLOAD_BYTES: значение должно быть положительным")
	}
	cfg.MaxUploadBytes = int64(maxUpload)

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("DB_PASSWORD"); err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Токены и аутентификация ---

	if cfg.JWTSecret, err = getEnvRequired("PA_JWT_SECRET"); err != nil {
		return nil, err
	}
	if len(cfg.JWTSecret) < minJWTSecretLen {
		return nil, fmt.Errorf("PA_JWT_SECRET: длина секрета должна быть не менее %d байт", minJWTSecretLen)
	}
	cfg.JWTIssuer = getEnvDefault("PA_JWT_ISSUER", "project-assistant")

	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"PA_JWT_TTL", 24 * time.Hour, &cfg.JWTTTL},
		{"PA_TWO_FACTOR_PENDING_TTL", 10 * time.Minute, &cfg.TwoFactorPendingTTL},
		{"PA_TWO_FACTOR_CODE_TTL", 10 * time.Minute, &cfg.TwoFactorCodeTTL},
		{"PA_TWO_FACTOR_RESEND_COOLDOWN", 60 * time.Second, &cfg.TwoFactorResendCooldown},
		{"PA_LOGIN_WINDOW", 15 * time.Minute, &cfg.LoginWindow},
		{"PA_RESET_TOKEN_TTL", time.Hour, &cfg.ResetTokenTTL},
		{"PA_RETENTION_INTERVAL", time.Hour, &cfg.RetentionInterval},
		{"N8N_TIMEOUT", 30 * time.Second, &cfg.N8NTimeout},
		{"PA_DEPHEALTH_CHECK_INTERVAL", 15 * time.Second, &cfg.DephealthCheckInterval},
		{"PA_SHUTDOWN_TIMEOUT", 5 * time.Second, &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		v, err := getEnvDuration(d.key, d.def)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		if v <= 0 {
			return nil, fmt.Errorf("%s: длительность должна быть положительной", d.key)
		}
		*d.dest = v
	}

	cfg.TwoFactorMaxAttempts, err = getEnvInt("PA_TWO_FACTOR_MAX_ATTEMPTS", 5)
	if err != nil {
		return nil, fmt.Errorf("PA_TWO_FACTOR_MAX_ATTEMPTS: %w", err)
	}
	cfg.LoginMaxAttempts, err = getEnvInt("PA_LOGIN_MAX_ATTEMPTS", 5)
	if err != nil {
		return nil, fmt.Errorf("PA_LOGIN_MAX_ATTEMPTS: %w", err)
	}
	if cfg.TwoFactorMaxAttempts < 1 || cfg.LoginMaxAttempts < 1 {
		return nil, fmt.Errorf("PA_TWO_FACTOR_MAX_ATTEMPTS и PA_LOGIN_MAX_ATTEMPTS должны быть >= 1")
	}

	rps := getEnvDefault("PA_AUTH_RATE_LIMIT_RPS", "1")
	if cfg.AuthRateLimitRPS, err = strconv.ParseFloat(rps, 64); err != nil || cfg.AuthRateLimitRPS <= 0 {
		return nil, fmt.Errorf("PA_AUTH_RATE_LIMIT_RPS: некорректное значение %q", rps)
	}
	cfg.AuthRateLimitBurst, err = getEnvInt("PA_AUTH_RATE_LIMIT_BURST", 10)
	if err != nil {
		return nil, fmt.Errorf("PA_AUTH_RATE_LIMIT_BURST: %w", err)
	}
	if cfg.AuthRateLimitBurst < 1 {
		return nil, fmt.Errorf("PA_AUTH_RATE_LIMIT_BURST: значение должно быть >= 1")
	}

	// --- Политика паролей ---

	cfg.PasswordPolicy.MinLength, err = getEnvInt("PA_PASSWORD_MIN_LENGTH", 8)
	if err != nil {
		return nil, fmt.Errorf("PA_PASSWORD_MIN_LENGTH: %w", err)
	}
	if cfg.PasswordPolicy.MinLength < 1 || cfg.PasswordPolicy.MinLength > 128 {
		return nil, fmt.Errorf("PA_PASSWORD_MIN_LENGTH: значение %d вне диапазона 1-128", cfg.PasswordPolicy.MinLength)
	}
	flags := []struct {
		key  string
		dest *bool
	}{
		{"PA_PASSWORD_REQUIRE_UPPERCASE", &cfg.PasswordPolicy.RequireUppercase},
		{"PA_PASSWORD_REQUIRE_LOWERCASE", &cfg.PasswordPolicy.RequireLowercase},
		{"PA_PASSWORD_REQUIRE_NUMBERS", &cfg.PasswordPolicy.RequireNumbers},
		{"PA_PASSWORD_REQUIRE_SPECIAL", &cfg.PasswordPolicy.RequireSpecialChars},
	}
	for _, f := range flags {
		v, err := getEnvBool(f.key, true)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.key, err)
		}
		*f.dest = v
	}

	// --- Уведомления ---

	pollMS, err := getEnvInt("NOTIFICATION_POLLING_INTERVAL_MS", 10000)
	if err != nil {
		return nil, fmt.Errorf("NOTIFICATION_POLLING_INTERVAL_MS: %w", err)
	}
	fullMS, err := getEnvInt("NOTIFICATION_FULL_REFRESH_INTERVAL_MS", 3600000)
	if err != nil {
		return nil, fmt.Errorf("NOTIFICATION_FULL_REFRESH_INTERVAL_MS: %w", err)
	}
	if pollMS < 1000 || fullMS < pollMS {
		return nil, fmt.Errorf("NOTIFICATION_*_INTERVAL_MS: опрос не чаще 1000 мс, полное обновление не чаще опроса")
	}
	cfg.NotificationPollingInterval = time.Duration(pollMS) * time.Millisecond
	cfg.NotificationFullRefreshInterval = time.Duration(fullMS) * time.Millisecond

	cfg.NotificationRetentionDays, err = getEnvInt("NOTIFICATION_RETENTION_DAYS", 90)
	if err != nil {
		return nil, fmt.Errorf("NOTIFICATION_RETENTION_DAYS: %w", err)
	}
	if cfg.NotificationRetentionDays < 1 {
		return nil, fmt.Errorf("NOTIFICATION_RETENTION_DAYS: значение должно быть >= 1")
	}

	// --- База знаний ---

	cfg.FolderMaxDepth, err = getEnvInt("PA_FOLDER_MAX_DEPTH", 32)
	if err != nil {
		return nil, fmt.Errorf("PA_FOLDER_MAX_DEPTH: %w", err)
	}
	if cfg.FolderMaxDepth < 1 || cfg.FolderMaxDepth > 256 {
		return nil, fmt.Errorf("PA_FOLDER_MAX_DEPTH: значение %d вне диапазона 1-256", cfg.FolderMaxDepth)
	}

	// --- n8n ---

	if cfg.N8NBaseURL, err = getEnvRequired("N8N_BASE_URL"); err != nil {
		return nil, err
	}
	cfg.N8NBaseURL = strings.TrimRight(cfg.N8NBaseURL, "/")
	if _, err := url.ParseRequestURI(cfg.N8NBaseURL); err != nil {
		return nil, fmt.Errorf("N8N_BASE_URL: некорректный URL %q", cfg.N8NBaseURL)
	}
	cfg.N8NWebhookPath = getEnvDefault("N8N_WEBHOOK_PATH", "/webhook/project-assistant-chat")
	if !strings.HasPrefix(cfg.N8NWebhookPath, "/") {
		cfg.N8NWebhookPath = "/" + cfg.N8NWebhookPath
	}
	cfg.N8NCACertPath = getEnvDefault("N8N_CA_CERT_PATH", "")

	// --- SMTP ---

	cfg.SMTPHost = getEnvDefault("SMTP_HOST", "")
	cfg.SMTPPort, err = getEnvInt("SMTP_PORT", 587)
	if err != nil {
		return nil, fmt.Errorf("SMTP_PORT: %w", err)
	}
	cfg.SMTPUser = getEnvDefault("SMTP_USER", "")
	cfg.SMTPPassword = getEnvDefault("SMTP_PASSWORD", "")
	cfg.SMTPFrom = getEnvDefault("SMTP_FROM", "no-reply@project-assistant.local")

	// --- Мониторинг зависимостей ---

	cfg.DephealthGroup = getEnvDefault("PA_DEPHEALTH_GROUP", "project-assistant")

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов метрик).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// N8NWebhookURL возвращает полный URL webhook чата.
func (c *Config) N8NWebhookURL() string {
	return c.N8NBaseURL + c.N8NWebhookPath
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
