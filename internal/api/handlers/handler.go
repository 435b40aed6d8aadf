// handler.go - основной обработчик API: объединяет доменные обработчики,
// общие функции разбора запросов и перевод ошибок сервисного слоя в HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	apierrors "github.com/bigkaa/project-assistant/internal/api/errors"
	"github.com/bigkaa/project-assistant/internal/api/middleware"
	"github.com/bigkaa/project-assistant/internal/service"
)

// maxJSONBody - предел тела JSON-запроса (кроме загрузки документов).
const maxJSONBody = 1 << 20

// APIHandler - набор обработчиков API Project Assistant.
// Маршруты регистрирует internal/server.
type APIHandler struct {
	Health        *HealthHandler
	Auth          *AuthHandler
	Notifications *NotificationHandler
	Knowledge     *KnowledgeHandler
	Chat          *ChatHandler
	Admin         *AdminHandler
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON читает тело запроса в dst. Неизвестные поля допускаются.
// При ошибке записывает 400 (или 413) и возвращает false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	return decodeBody(w, r, dst)
}

// decodeBody - decodeJSON без собственного лимита: тело уже ограничено вызывающим.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			apierrors.PayloadTooLarge(w, "Тело запроса слишком большое")
		case errors.Is(err, io.EOF):
			apierrors.ValidationError(w, "Пустое тело запроса")
		default:
			apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		}
		return false
	}
	return true
}

// actor возвращает субъекта запроса. Маршрут обязан стоять за JWTAuth.
func actor(r *http.Request) service.Actor {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		return service.Actor{}
	}
	return claims.Actor()
}

// optionalString - параметр запроса или nil, если он не задан.
func optionalString(r *http.Request, name string) *string {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return nil
	}
	return &v
}

// queryInt разбирает целый параметр запроса; пусто - def.
func queryInt(r *http.Request, name string, def int) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("параметр %s должен быть целым числом", name)
	}
	return n, nil
}

// paginationDefaults нормализует параметры пагинации.
// Возвращает корректные limit и offset.
func paginationDefaults(r *http.Request) (int, int, error) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		return 0, 0, err
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		return 0, 0, err
	}
	limit = min(max(limit, 1), 1000)
	offset = max(offset, 0)
	return limit, offset, nil
}

// writeServiceError переводит ошибку сервисного слоя в HTTP-ответ.
// Неизвестные ошибки логируются и отдаются как 500 без подробностей.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var retry *service.RetryError
	switch {
	case errors.As(err, &retry):
		apierrors.TooManyRequests(w, retry.Error(), retry.RetryAfterSeconds)
	case errors.Is(err, service.ErrTooManyAttempts):
		apierrors.TooManyRequests(w, err.Error(), 0)
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrInvalidCode):
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.CodeInvalidCode, err.Error())
	case errors.Is(err, service.ErrInvalidToken):
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.CodeInvalidToken, err.Error())
	case errors.Is(err, service.ErrUnauthorized):
		apierrors.Unauthorized(w, err.Error())
	case errors.Is(err, service.ErrTwoFactorRequired):
		apierrors.WriteError(w, http.StatusForbidden, apierrors.CodeTwoFactorRequired, err.Error())
	case errors.Is(err, service.ErrForbidden):
		apierrors.Forbidden(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrCycle):
		apierrors.WriteError(w, http.StatusConflict, apierrors.CodeFolderCycle, err.Error())
	case errors.Is(err, service.ErrInvalidTransition):
		apierrors.WriteError(w, http.StatusConflict, apierrors.CodeInvalidTransition, err.Error())
	case errors.Is(err, service.ErrConflict):
		apierrors.Conflict(w, err.Error())
	default:
		logger.Error("Внутренняя ошибка", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}
