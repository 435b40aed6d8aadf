// Пакет n8n - HTTP-клиент движка workflow n8n.
// Поддерживает TLS с кастомным CA (N8N_CA_CERT_PATH).
// Операции: Chat (POST webhook), LoadPreviousSession (POST webhook с action),
// Health (GET /healthz).
package n8n

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// ActionLoadPreviousSession - действие загрузки истории сессии чата.
const ActionLoadPreviousSession = "loadPreviousSession"

// Максимальный размер ответа n8n.
const maxResponseBytes = 4 << 20

// ErrInvalidResponse - n8n вернул не-JSON ответ.
var ErrInvalidResponse = errors.New("некорректный ответ n8n")

// StatusError - n8n ответил статусом вне 2xx.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("n8n вернул статус %d: %s", e.StatusCode, e.Body)
}

// Config - параметры подключения к n8n.
type Config struct {
	BaseURL     string
	WebhookPath string
	Timeout     time.Duration
	CACertPath  string
}

// Client - HTTP-клиент n8n.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	webhookPath string
	logger      *slog.Logger
}

// New создаёт клиент n8n.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	if cfg.CACertPath != "" {
		tlsConfig, err := buildTLSConfig(cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата n8n: %w", err)
		}
		httpClient.Transport = &http.Transport{
			TLSClientConfig: tlsConfig,
		}
		logger.Info("CA-сертификат n8n добавлен в пул доверия",
			slog.String("ca_cert", cfg.CACertPath),
		)
	}

	path := cfg.WebhookPath
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return &Client{
		httpClient:  httpClient,
		baseURL:     normalizeURL(cfg.BaseURL),
		webhookPath: path,
		logger:      logger.With(slog.String("component", "n8n_client")),
	}, nil
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("файл %s не содержит PEM-сертификатов", caCertPath)
	}

	return &tls.Config{
		RootCAs:    caCertPool,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// BaseURL возвращает базовый URL n8n без завершающего слэша.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// WebhookPath возвращает путь webhook чата.
func (c *Client) WebhookPath() string {
	return c.webhookPath
}

// WebhookURL возвращает полный URL webhook чата.
func (c *Client) WebhookURL() string {
	return c.baseURL + c.webhookPath
}

// Chat отправляет payload на webhook и возвращает JSON-ответ как есть.
func (c *Client) Chat(ctx context.Context, payload map[string]any) (json.RawMessage, error) {
	return c.postWebhook(ctx, payload)
}

// LoadPreviousSession запрашивает историю сессии чата.
func (c *Client) LoadPreviousSession(ctx context.Context, sessionID string, metadata map[string]any) (json.RawMessage, error) {
	payload := map[string]any{
		"action":    ActionLoadPreviousSession,
		"sessionId": sessionID,
	}
	if len(metadata) > 0 {
		payload["metadata"] = metadata
	}
	return c.postWebhook(ctx, payload)
}

func (c *Client) postWebhook(ctx context.Context, payload map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("сериализация запроса n8n: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.WebhookURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("создание запроса к n8n: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос к n8n %s: %w", c.WebhookURL(), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("чтение ответа n8n: %w", err)
	}

	c.logger.Debug("Ответ n8n",
		slog.Int("status", resp.StatusCode),
		slog.Int("bytes", len(data)),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(data), 512)}
	}
	if !json.Valid(data) {
		return nil, ErrInvalidResponse
	}

	return json.RawMessage(data), nil
}

// HealthResult - результат проверки /healthz.
type HealthResult struct {
	StatusCode int
	Body       json.RawMessage
}

// Health запрашивает GET /healthz. Ошибка возвращается только при
// недоступности n8n; любой HTTP-статус считается ответом.
func (c *Client) Health(ctx context.Context) (*HealthResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return nil, fmt.Errorf("создание запроса health: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос health к n8n: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	result := &HealthResult{StatusCode: resp.StatusCode}
	if json.Valid(data) && len(data) > 0 {
		result.Body = json.RawMessage(data)
	}
	return result, nil
}

// normalizeURL убирает завершающий слэш из URL.
func normalizeURL(u string) string {
	return strings.TrimRight(u, "/")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
