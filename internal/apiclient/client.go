// Пакет apiclient - Go-клиент REST API Project Assistant.
// Используется pactl и интеграционными сценариями: хранит токен сессии,
// ведёт вход с двухфакторной аутентификацией и опрашивает уведомления.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// APIError - ошибка API в едином формате {"error", "code"}.
type APIError struct {
	StatusCode        int
	Code              string `json:"code"`
	Message           string `json:"error"`
	RetryAfterSeconds int    `json:"retryAfterSeconds"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API вернул статус %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API вернул статус %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// IsStatus сообщает, что err - APIError с указанным статусом.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// User - пользователь в ответах API.
type User struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	Username         string `json:"username"`
	GlobalRole       string `json:"global_role"`
	IsActive         bool   `json:"is_active"`
	TwoFactorEnabled bool   `json:"two_factor_enabled"`
}

// LoginResponse - ответ входа и подтверждения кода.
type LoginResponse struct {
	Token             string    `json:"token"`
	ExpiresAt         time.Time `json:"expiresAt"`
	User              User      `json:"user"`
	RequiresTwoFactor bool      `json:"requiresTwoFactor"`
}

// SendCodeResponse - ответ отправки кода 2FA.
type SendCodeResponse struct {
	ExpiresAt         time.Time `json:"expiresAt"`
	RetryAfterSeconds int       `json:"retryAfterSeconds"`
}

// Notification - уведомление пользователя.
type Notification struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	ProjectID *string        `json:"projectId"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Type      string         `json:"type"`
	Priority  string         `json:"priority"`
	IsRead    bool           `json:"isRead"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"createdAt"`
}

// NotificationList - ответ GET /api/notifications.
type NotificationList struct {
	Notifications []Notification `json:"notifications"`
	UnreadCount   int            `json:"unreadCount"`
	ServerTime    time.Time      `json:"serverTime"`
}

// NotificationQuery - параметры списка уведомлений.
type NotificationQuery struct {
	ProjectID *string
	// Since - только уведомления, созданные строго позже
	Since *time.Time
	Limit int
}

// PollingConfig - интервалы опроса, публикуемые сервером.
type PollingConfig struct {
	PollingIntervalMs     int64 `json:"pollingIntervalMs"`
	FullRefreshIntervalMs int64 `json:"fullRefreshIntervalMs"`
}

// Client - HTTP-клиент API Project Assistant.
type Client struct {
	httpClient *http.Client
	baseURL    string
	session    *Session
	logger     *slog.Logger
}

// New создаёт клиент. httpClient nil - клиент с таймаутом 30 секунд.
func New(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		session:    NewSession(),
		logger:     logger.With(slog.String("component", "api_client")),
	}
}

// Session возвращает сессию клиента.
func (c *Client) Session() *Session {
	return c.session
}

// do выполняет запрос с JSON-телом in и декодирует ответ в out (если не nil).
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("сериализация запроса %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("создание запроса %s %s: %w", method, path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	token := c.session.Token()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("запрос %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		if resp.StatusCode == http.StatusUnauthorized && token != "" {
			c.logger.Info("Сервер отклонил токен, сессия сброшена", slog.String("path", path))
			c.session.unauthorized()
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("декодирование ответа %s %s: %w", method, path, err)
	}
	return nil
}

// --- Аутентификация ---

// Login - POST /api/auth/login. login - email или username.
func (c *Client) Login(ctx context.Context, login, password string) (*LoginResponse, error) {
	var resp LoginResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{"login": login, "password": password}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendTwoFactor - POST /api/auth/2fa/send.
func (c *Client) SendTwoFactor(ctx context.Context) (*SendCodeResponse, error) {
	var resp SendCodeResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/2fa/send", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VerifyTwoFactor - POST /api/auth/2fa/verify.
func (c *Client) VerifyTwoFactor(ctx context.Context, code string) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/2fa/verify", map[string]string{"code": code}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Me - GET /api/auth/me.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var resp struct {
		User User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.User, nil
}

// --- Уведомления ---

// ListNotifications - GET /api/notifications.
func (c *Client) ListNotifications(ctx context.Context, q NotificationQuery) (*NotificationList, error) {
	params := url.Values{}
	if q.ProjectID != nil {
		params.Set("projectId", *q.ProjectID)
	}
	if q.Since != nil {
		params.Set("since", q.Since.UTC().Format(time.RFC3339Nano))
	}
	if q.Limit > 0 {
		params.Set("limit", fmt.Sprint(q.Limit))
	}
	path := "/api/notifications"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp NotificationList
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MarkAsRead - PATCH /api/notifications/{id}/read.
func (c *Client) MarkAsRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPatch, "/api/notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

// NotificationConfig - GET /api/notifications/config.
func (c *Client) NotificationConfig(ctx context.Context) (*PollingConfig, error) {
	var resp PollingConfig
	if err := c.do(ctx, http.MethodGet, "/api/notifications/config", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Чат и администрирование ---

// Chat - POST /api/n8n/chat. Возвращает ответ n8n (или запасной ответ) как есть.
func (c *Client) Chat(ctx context.Context, message, sessionID string) (json.RawMessage, error) {
	payload := map[string]any{"message": message}
	if sessionID != "" {
		payload["sessionId"] = sessionID
	}
	var resp json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/api/n8n/chat", payload, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// SetUserPassword - POST /api/admin/users/{id}/set-password (system_admin).
func (c *Client) SetUserPassword(ctx context.Context, userID, password string) error {
	return c.do(ctx, http.MethodPost, "/api/admin/users/"+url.PathEscape(userID)+"/set-password",
		map[string]string{"password": password}, nil)
}
