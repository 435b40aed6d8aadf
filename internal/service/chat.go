// chat.go - прокси чата к вебхуку n8n.
//
// Ошибка n8n (сеть, статус не 2xx, некорректный JSON) не превращается в ошибку
// клиента: пользователь получает запасной ответ с fallback=true.
//
// Prometheus-метрики:
//   - pa_n8n_fallback_total{reason} - количество запасных ответов
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/project-assistant/internal/n8n"
)

var n8nFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pa_n8n_fallback_total",
	Help: "Количество запасных ответов чата при недоступности n8n",
}, []string{"reason"})

const (
	healthCacheTTL = 5 * time.Second
	healthCacheKey = "n8n"
	maxChatRunes   = 32000
)

// Статусы проверки n8n.
const (
	UpstreamAvailable   = "ok"
	UpstreamUnavailable = "unavailable"
)

// ChatUpstream - вебхук n8n. Реализуется *n8n.Client.
type ChatUpstream interface {
	Chat(ctx context.Context, payload map[string]any) (json.RawMessage, error)
	LoadPreviousSession(ctx context.Context, sessionID string, metadata map[string]any) (json.RawMessage, error)
	Health(ctx context.Context) (*n8n.HealthResult, error)
	BaseURL() string
	WebhookPath() string
	WebhookURL() string
}

// UpstreamHealth - результат проверки n8n.
type UpstreamHealth struct {
	Status     string
	StatusCode int
	Body       json.RawMessage
	CheckedAt  time.Time
}

// Available - n8n ответил.
func (h *UpstreamHealth) Available() bool {
	return h.Status == UpstreamAvailable
}

// ChatConfig - публичные адреса n8n.
type ChatConfig struct {
	BaseURL     string `json:"baseUrl"`
	WebhookPath string `json:"webhookPath"`
	WebhookURL  string `json:"webhookUrl"`
}

// ChatService - прокси чата.
type ChatService struct {
	upstream ChatUpstream
	health   *expirable.LRU[string, *UpstreamHealth]
	logger   *slog.Logger
}

// NewChatService создаёт прокси чата.
func NewChatService(upstream ChatUpstream, logger *slog.Logger) *ChatService {
	return &ChatService{
		upstream: upstream,
		health:   expirable.NewLRU[string, *UpstreamHealth](1, nil, healthCacheTTL),
		logger:   logger.With(slog.String("component", "chat")),
	}
}

// Send пересылает сообщение пользователя в n8n.
// payload - тело запроса клиента как есть; в него дописываются
// message/chatInput (оба), sessionId и metadata.userId.
// Для action=loadPreviousSession при сбое возвращается пустая история.
func (s *ChatService) Send(ctx context.Context, actor Actor, payload map[string]any) (json.RawMessage, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	sessionID, _ := payload["sessionId"].(string)
	if strings.TrimSpace(sessionID) == "" {
		sessionID = uuid.NewString()
	}
	payload["sessionId"] = sessionID

	metadata, _ := payload["metadata"].(map[string]any)
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["userId"] = actor.UserID
	payload["metadata"] = metadata

	if action, _ := payload["action"].(string); action == n8n.ActionLoadPreviousSession {
		return s.loadPreviousSession(ctx, sessionID, metadata)
	}

	text, _ := payload["message"].(string)
	if text == "" {
		text, _ = payload["chatInput"].(string)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, validationf("message обязателен")
	}
	if len([]rune(text)) > maxChatRunes {
		return nil, validationf("message длиннее %d символов", maxChatRunes)
	}
	payload["message"] = text
	payload["chatInput"] = text

	resp, err := s.upstream.Chat(ctx, payload)
	if err != nil {
		return s.fallback(sessionID, text, err)
	}
	return resp, nil
}

func (s *ChatService) loadPreviousSession(ctx context.Context, sessionID string, metadata map[string]any) (json.RawMessage, error) {
	resp, err := s.upstream.LoadPreviousSession(ctx, sessionID, metadata)
	if err == nil {
		return resp, nil
	}
	s.logger.Warn("История сессии чата недоступна",
		slog.String("session_id", sessionID),
		slog.String("error", err.Error()),
	)
	n8nFallbacks.WithLabelValues(fallbackReason(err)).Inc()
	return json.Marshal(map[string]any{
		"sessionId": sessionID,
		"messages":  []any{},
	})
}

func (s *ChatService) fallback(sessionID, text string, cause error) (json.RawMessage, error) {
	reason := fallbackReason(cause)
	n8nFallbacks.WithLabelValues(reason).Inc()
	s.logger.Warn("n8n недоступен, отправлен запасной ответ",
		slog.String("session_id", sessionID),
		slog.String("reason", reason),
		slog.String("error", cause.Error()),
	)
	return json.Marshal(map[string]any{
		"response": fmt.Sprintf(
			"Ассистент сейчас недоступен, поэтому я не могу ответить на «%s». Попробуйте повторить запрос позже.", text),
		"fallback":  true,
		"sessionId": sessionID,
	})
}

func fallbackReason(err error) string {
	var se *n8n.StatusError
	switch {
	case errors.As(err, &se):
		return "status"
	case errors.Is(err, n8n.ErrInvalidResponse):
		return "invalid_response"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "network"
	}
}

// Health проверяет n8n. Результат кэшируется на 5 секунд.
func (s *ChatService) Health(ctx context.Context) *UpstreamHealth {
	if h, ok := s.health.Get(healthCacheKey); ok {
		return h
	}

	h := &UpstreamHealth{CheckedAt: time.Now().UTC()}
	res, err := s.upstream.Health(ctx)
	if err != nil {
		s.logger.Warn("n8n недоступен", slog.String("error", err.Error()))
		h.Status = UpstreamUnavailable
	} else {
		h.Status = UpstreamAvailable
		h.StatusCode = res.StatusCode
		h.Body = res.Body
	}
	s.health.Add(healthCacheKey, h)
	return h
}

// CheckReady реализует проверку готовности для /health/ready.
func (s *ChatService) CheckReady() (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if h := s.Health(ctx); !h.Available() {
		return "fail", "n8n недоступен"
	}
	return "ok", ""
}

// Config возвращает адреса n8n.
func (s *ChatService) Config() ChatConfig {
	return ChatConfig{
		BaseURL:     s.upstream.BaseURL(),
		WebhookPath: s.upstream.WebhookPath(),
		WebhookURL:  s.upstream.WebhookURL(),
	}
}
