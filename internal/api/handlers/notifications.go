// notifications.go - обработчики /api/notifications.
package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/project-assistant/internal/api/errors"
	"github.com/bigkaa/project-assistant/internal/domain/model"
	"github.com/bigkaa/project-assistant/internal/service"
)

// NotificationHandler - обработчик уведомлений.
type NotificationHandler struct {
	notifications *service.NotificationService
	logger        *slog.Logger
}

// NewNotificationHandler создаёт обработчик уведомлений.
func NewNotificationHandler(notifications *service.NotificationService, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		notifications: notifications,
		logger:        logger.With(slog.String("component", "notifications_handler")),
	}
}

type notificationListResponse struct {
	Notifications []notificationResponse `json:"notifications"`
	UnreadCount   int                    `json:"unreadCount"`
	// ServerTime - момент ответа; клиент может не полагаться на свои часы
	ServerTime time.Time `json:"serverTime"`
}

// List - GET /api/notifications?projectId=&since=&includeDeleted=&limit=&userId=.
// since (RFC 3339) даёт дельту для короткого опроса.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.NotificationFilter{
		ProjectID:      optionalString(r, "projectId"),
		IncludeDeleted: q.Get("includeDeleted") == "true",
	}
	if s := strings.TrimSpace(q.Get("since")); s != "" {
		since, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			apierrors.ValidationError(w, "Параметр since должен быть в формате RFC 3339")
			return
		}
		f.Since = &since
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	f.Limit = limit

	a := actor(r)
	userID := q.Get("userId")
	list, err := h.notifications.List(r.Context(), a, userID, f)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	unread, err := h.notifications.UnreadCount(r.Context(), a, userID, f.ProjectID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, notificationListResponse{
		Notifications: toNotifications(list),
		UnreadCount:   unread,
		ServerTime:    time.Now().UTC(),
	})
}

type createNotificationRequest struct {
	UserID    string         `json:"userId"`
	ProjectID *string        `json:"projectId"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Type      string         `json:"type"`
	Priority  string         `json:"priority"`
	Metadata  map[string]any `json:"metadata"`
	RequestID *string        `json:"requestId"`
}

// Create - POST /api/notifications.
// 201 - создано, 200 - повтор с тем же requestId вернул существующую запись.
func (h *NotificationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createNotificationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	n, created, err := h.notifications.Create(r.Context(), actor(r), service.NotificationInput{
		UserID:    req.UserID,
		ProjectID: req.ProjectID,
		Title:     req.Title,
		Message:   req.Message,
		Type:      req.Type,
		Priority:  req.Priority,
		Metadata:  req.Metadata,
		RequestID: req.RequestID,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, toNotification(n))
}

// MarkAsRead - PATCH /api/notifications/{id}/read.
func (h *NotificationHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.notifications.MarkAsRead(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toNotification(n))
}

type affectedResponse struct {
	Affected int64 `json:"affected"`
}

// MarkAllAsRead - PATCH /api/notifications/read-all?projectId=&userId=.
func (h *NotificationHandler) MarkAllAsRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.notifications.MarkAllAsRead(r.Context(), actor(r), r.URL.Query().Get("userId"), optionalString(r, "projectId"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, affectedResponse{Affected: n})
}

type bulkRequest struct {
	UserID          string   `json:"userId"`
	Action          string   `json:"action"`
	NotificationIDs []string `json:"notificationIds"`
}

// Bulk - PATCH /api/notifications/bulk.
func (h *NotificationHandler) Bulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	n, err := h.notifications.Bulk(r.Context(), actor(r), req.UserID, req.Action, req.NotificationIDs)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, affectedResponse{Affected: n})
}

// Delete - DELETE /api/notifications/{id} (мягкое удаление).
func (h *NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.notifications.Delete(r.Context(), actor(r), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearAll - DELETE /api/notifications?projectId=&userId= (мягкое удаление всех).
func (h *NotificationHandler) ClearAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.notifications.ClearAll(r.Context(), actor(r), r.URL.Query().Get("userId"), optionalString(r, "projectId"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, affectedResponse{Affected: n})
}

// UnreadCount - GET /api/notifications/{id}/unread-count?projectId=.
// Сегмент {id} здесь - id пользователя: имя параметра совпадает с /{id}/read,
// чтобы оба маршрута делили один узел дерева chi.
func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.notifications.UnreadCount(r.Context(), actor(r), chi.URLParam(r, "id"), optionalString(r, "projectId"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unreadCount": n})
}

type pollingConfigResponse struct {
	PollingIntervalMs     int64 `json:"pollingIntervalMs"`
	FullRefreshIntervalMs int64 `json:"fullRefreshIntervalMs"`
}

// Config - GET /api/notifications/config: интервалы опроса для клиентов.
func (h *NotificationHandler) Config(w http.ResponseWriter, _ *http.Request) {
	cfg := h.notifications.PollingConfig()
	writeJSON(w, http.StatusOK, pollingConfigResponse{
		PollingIntervalMs:     cfg.PollingInterval.Milliseconds(),
		FullRefreshIntervalMs: cfg.FullRefreshInterval.Milliseconds(),
	})
}
