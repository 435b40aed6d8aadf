// chat.go - прокси чата n8n: /api/n8n/chat, /api/n8n/health, /api/n8n/config.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/bigkaa/project-assistant/internal/service"
)

// ChatHandler - обработчик прокси n8n.
type ChatHandler struct {
	chat   *service.ChatService
	logger *slog.Logger
}

// NewChatHandler создаёт обработчик прокси n8n.
func NewChatHandler(chat *service.ChatService, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{
		chat:   chat,
		logger: logger.With(slog.String("component", "chat_handler")),
	}
}

// Chat - POST /api/n8n/chat.
// Сбой n8n не превращается в ошибку: сервис возвращает запасной ответ с fallback=true.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if !decodeJSON(w, r, &payload) {
		return
	}
	resp, err := h.chat.Send(r.Context(), actor(r), payload)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp)
}

type chatHealthResponse struct {
	Status     string          `json:"status"`
	StatusCode int             `json:"statusCode,omitempty"`
	Upstream   json.RawMessage `json:"upstream,omitempty"`
	CheckedAt  time.Time       `json:"checkedAt"`
}

// Health - GET /api/n8n/health. Недоступный n8n - 503.
func (h *ChatHandler) Health(w http.ResponseWriter, r *http.Request) {
	res := h.chat.Health(r.Context())
	status := http.StatusOK
	if !res.Available() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, chatHealthResponse{
		Status:     res.Status,
		StatusCode: res.StatusCode,
		Upstream:   res.Body,
		CheckedAt:  res.CheckedAt,
	})
}

// Config - GET /api/n8n/config.
func (h *ChatHandler) Config(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.chat.Config())
}
