// notifications.go - сервис уведомлений: создание (идемпотентное по request_id),
// чтение, пометка прочитанными и мягкое удаление.
// Флаги is_read и is_deleted независимы: удаление не меняет прочитанность и наоборот.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/project-assistant/internal/domain/model"
	"github.com/bigkaa/project-assistant/internal/domain/rbac"
	"github.com/bigkaa/project-assistant/internal/mailer"
	"github.com/bigkaa/project-assistant/internal/repository"
)

var notificationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pa_notifications_created_total",
	Help: "Количество созданных уведомлений",
}, []string{"type"})

// Ограничения входных данных уведомлений.
const (
	maxTitleLen   = 255
	maxMessageLen = 10000
	maxBulkIDs    = 500
	maxListLimit  = 500
)

// Действия массовой операции.
const (
	BulkMarkRead = "mark-read"
	BulkDelete   = "delete"
)

// NotificationInput - данные нового уведомления.
type NotificationInput struct {
	// UserID - получатель; пусто - сам актор
	UserID    string
	ProjectID *string
	Title     string
	Message   string
	Type      string
	Priority  string
	Metadata  map[string]any
	// RequestID - ключ идемпотентности повторной отправки
	RequestID *string
}

// PollingConfig - интервалы опроса, публикуемые клиентам.
type PollingConfig struct {
	PollingInterval     time.Duration
	FullRefreshInterval time.Duration
}

// NotificationService - бизнес-логика уведомлений.
type NotificationService struct {
	store   repository.Store
	polling PollingConfig
	// mailer - письмо-сводка при срочном уведомлении; nil - без писем
	mailer Mailer
	logger *slog.Logger
}

// NewNotificationService создаёт сервис уведомлений.
func NewNotificationService(store repository.Store, polling PollingConfig, logger *slog.Logger) *NotificationService {
	return &NotificationService{
		store:   store,
		polling: polling,
		logger:  logger.With(slog.String("component", "notifications")),
	}
}

// WithMailer включает письмо-сводку (notification_digest) при создании
// уведомления с приоритетом urgent.
func (s *NotificationService) WithMailer(m Mailer) *NotificationService {
	s.mailer = m
	return s
}

// PollingConfig возвращает интервалы опроса.
func (s *NotificationService) PollingConfig() PollingConfig {
	return s.polling
}

// Create создаёт уведомление от имени актора.
// Обычный пользователь создаёт уведомления только себе.
// Повтор с тем же RequestID возвращает ранее созданную запись и created=false.
func (s *NotificationService) Create(ctx context.Context, actor Actor, in NotificationInput) (*model.Notification, bool, error) {
	if in.UserID == "" {
		in.UserID = actor.UserID
	}
	if in.UserID != actor.UserID && !actor.Can(rbac.PermNotificationsCreateForOthers) {
		return nil, false, fmt.Errorf("%w: создавать уведомления другим может только system_admin", ErrForbidden)
	}
	return s.Notify(ctx, in)
}

// Notify создаёт уведомление без проверки прав.
// Используется другими сервисами (заявки агентов, смена пароля).
func (s *NotificationService) Notify(ctx context.Context, in NotificationInput) (*model.Notification, bool, error) {
	n, err := buildNotification(in)
	if err != nil {
		return nil, false, err
	}

	created, err := s.store.Repos().Notifications.Create(ctx, n)
	if err != nil {
		return nil, false, translate(err)
	}

	if created {
		notificationsCreated.WithLabelValues(n.Type).Inc()
		s.logger.Debug("Уведомление создано",
			slog.String("id", n.ID),
			slog.String("user_id", n.UserID),
			slog.String("type", n.Type),
		)
		if n.Priority == model.PriorityUrgent {
			s.sendDigest(ctx, n.UserID)
		}
	} else {
		s.logger.Debug("Повтор создания уведомления, возвращена существующая запись",
			slog.String("id", n.ID),
			slog.String("request_id", *in.RequestID),
		)
	}
	return n, created, nil
}

// NotifySafe создаёт уведомление и только логирует ошибку.
// Для побочных уведомлений, которые не должны ломать основную операцию.
func (s *NotificationService) NotifySafe(ctx context.Context, in NotificationInput) {
	if _, _, err := s.Notify(ctx, in); err != nil {
		s.logger.Warn("Не удалось создать уведомление",
			slog.String("user_id", in.UserID),
			slog.String("title", in.Title),
			slog.String("error", err.Error()),
		)
	}
}

// sendDigest отправляет письмо с числом непрочитанных. Ошибка только логируется:
// уведомление уже сохранено и будет получено опросом.
func (s *NotificationService) sendDigest(ctx context.Context, userID string) {
	if s.mailer == nil {
		return
	}
	repos := s.store.Repos()
	user, err := repos.Users.GetByID(ctx, userID)
	if err != nil {
		s.logger.Warn("Сводка не отправлена: пользователь не найден",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}
	unread, err := repos.Notifications.UnreadCount(ctx, userID, nil)
	if err != nil {
		s.logger.Warn("Сводка не отправлена: ошибка подсчёта",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}
	err = s.mailer.SendTemplate(ctx, user.Email, mailer.TemplateNotificationDigest, map[string]string{
		"USER_NAME":    user.Username,
		"UNREAD_COUNT": strconv.Itoa(unread),
	})
	if err != nil {
		s.logger.Warn("Не удалось отправить сводку уведомлений",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

func buildNotification(in NotificationInput) (*model.Notification, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, validationf("title обязателен")
	}
	if utf8.RuneCountInString(title) > maxTitleLen {
		return nil, validationf("title длиннее %d символов", maxTitleLen)
	}
	if utf8.RuneCountInString(in.Message) > maxMessageLen {
		return nil, validationf("message длиннее %d символов", maxMessageLen)
	}
	if in.UserID == "" {
		return nil, validationf("не указан получатель")
	}

	typ := in.Type
	if typ == "" {
		typ = model.NotificationTypeInfo
	}
	if !model.IsValidNotificationType(typ) {
		return nil, validationf("недопустимый type %q", typ)
	}
	priority := in.Priority
	if priority == "" {
		priority = model.PriorityMedium
	}
	if !model.IsValidPriority(priority) {
		return nil, validationf("недопустимый priority %q", priority)
	}

	var requestID *string
	if in.RequestID != nil && strings.TrimSpace(*in.RequestID) != "" {
		r := strings.TrimSpace(*in.RequestID)
		requestID = &r
	}

	return &model.Notification{
		UserID:    in.UserID,
		ProjectID: in.ProjectID,
		Title:     title,
		Message:   in.Message,
		Type:      typ,
		Priority:  priority,
		Metadata:  in.Metadata,
		RequestID: requestID,
	}, nil
}

// subject определяет, чьи уведомления затрагивает операция.
// Пустой userID - сам актор; чужой - только для system_admin.
func subject(actor Actor, userID string) (string, error) {
	if userID == "" || userID == actor.UserID {
		return actor.UserID, nil
	}
	if !actor.IsSystemAdmin() {
		return "", fmt.Errorf("%w: чужие уведомления доступны только system_admin", ErrForbidden)
	}
	return userID, nil
}

// List возвращает уведомления пользователя userID (пусто - актора).
func (s *NotificationService) List(ctx context.Context, actor Actor, userID string, f model.NotificationFilter) ([]*model.Notification, error) {
	uid, err := subject(actor, userID)
	if err != nil {
		return nil, err
	}
	if f.Limit <= 0 || f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	list, err := s.store.Repos().Notifications.ListForUser(ctx, uid, f)
	if err != nil {
		return nil, translate(err)
	}
	return list, nil
}

// UnreadCount - число непрочитанных и неудалённых уведомлений.
func (s *NotificationService) UnreadCount(ctx context.Context, actor Actor, userID string, projectID *string) (int, error) {
	uid, err := subject(actor, userID)
	if err != nil {
		return 0, err
	}
	n, err := s.store.Repos().Notifications.UnreadCount(ctx, uid, projectID)
	return n, translate(err)
}

// owned загружает уведомление и проверяет, что актор вправе его менять.
func (s *NotificationService) owned(ctx context.Context, actor Actor, id string) (*model.Notification, error) {
	n, err := s.store.Repos().Notifications.GetByID(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	if n.UserID != actor.UserID && !actor.IsSystemAdmin() {
		return nil, fmt.Errorf("%w: уведомление принадлежит другому пользователю", ErrForbidden)
	}
	return n, nil
}

// MarkAsRead помечает уведомление прочитанным. Флаг удаления не меняется.
func (s *NotificationService) MarkAsRead(ctx context.Context, actor Actor, id string) (*model.Notification, error) {
	if _, err := s.owned(ctx, actor, id); err != nil {
		return nil, err
	}
	n, err := s.store.Repos().Notifications.MarkAsRead(ctx, id)
	return n, translate(err)
}

// MarkAllAsRead помечает прочитанными все уведомления пользователя (или проекта).
func (s *NotificationService) MarkAllAsRead(ctx context.Context, actor Actor, userID string, projectID *string) (int64, error) {
	uid, err := subject(actor, userID)
	if err != nil {
		return 0, err
	}
	n, err := s.store.Repos().Notifications.MarkAllAsRead(ctx, uid, projectID)
	return n, translate(err)
}

// Delete мягко удаляет уведомление. Флаг прочитанности не меняется.
func (s *NotificationService) Delete(ctx context.Context, actor Actor, id string) error {
	if _, err := s.owned(ctx, actor, id); err != nil {
		return err
	}
	return translate(s.store.Repos().Notifications.SoftDelete(ctx, id))
}

// ClearAll мягко удаляет все уведомления пользователя (или проекта).
func (s *NotificationService) ClearAll(ctx context.Context, actor Actor, userID string, projectID *string) (int64, error) {
	uid, err := subject(actor, userID)
	if err != nil {
		return 0, err
	}
	n, err := s.store.Repos().Notifications.ClearAll(ctx, uid, projectID)
	return n, translate(err)
}

// Bulk применяет действие к набору уведомлений пользователя.
// Чужие id молча пропускаются; возвращается число затронутых записей.
func (s *NotificationService) Bulk(ctx context.Context, actor Actor, userID, action string, ids []string) (int64, error) {
	uid, err := subject(actor, userID)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, validationf("ids не может быть пустым")
	}
	if len(ids) > maxBulkIDs {
		return 0, validationf("не более %d id за запрос", maxBulkIDs)
	}

	repo := s.store.Repos().Notifications
	var n int64
	switch action {
	case BulkMarkRead:
		n, err = repo.BulkMarkRead(ctx, uid, ids)
	case BulkDelete:
		n, err = repo.BulkDelete(ctx, uid, ids)
	default:
		return 0, validationf("недопустимое действие %q: ожидается %s или %s", action, BulkMarkRead, BulkDelete)
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, validationf("некорректный id в списке")
		}
		return 0, err
	}
	return n, nil
}
