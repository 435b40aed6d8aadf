package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/project-assistant/internal/domain/model"
)

// NotificationRepository - уведомления пользователей.
// Записи не удаляются физически: удаление выставляет is_deleted.
type NotificationRepository interface {
	// Create сохраняет уведомление. Если RequestID задан и уведомление с той же
	// парой (user_id, request_id) уже есть, n заполняется существующей записью
	// и возвращается created=false.
	Create(ctx context.Context, n *model.Notification) (created bool, err error)
	GetByID(ctx context.Context, id string) (*model.Notification, error)
	// ListForUser возвращает уведомления по убыванию created_at, id.
	ListForUser(ctx context.Context, userID string, f model.NotificationFilter) ([]*model.Notification, error)
	// MarkAsRead помечает прочитанным; повторная пометка не меняет read_at.
	MarkAsRead(ctx context.Context, id string) (*model.Notification, error)
	// MarkAllAsRead помечает прочитанными все неудалённые непрочитанные.
	MarkAllAsRead(ctx context.Context, userID string, projectID *string) (int64, error)
	// SoftDelete выставляет is_deleted; is_read не меняется.
	SoftDelete(ctx context.Context, id string) error
	// ClearAll мягко удаляет все уведомления пользователя.
	ClearAll(ctx context.Context, userID string, projectID *string) (int64, error)
	// BulkMarkRead и BulkDelete затрагивают только уведомления userID из ids.
	BulkMarkRead(ctx context.Context, userID string, ids []string) (int64, error)
	BulkDelete(ctx context.Context, userID string, ids []string) (int64, error)
	// UnreadCount считает is_read = false AND is_deleted = false.
	UnreadCount(ctx context.Context, userID string, projectID *string) (int, error)
	// SoftDeleteReadBefore мягко удаляет прочитанные уведомления, созданные до cutoff.
	SoftDeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type notificationRepo struct {
	db DBTX
}

// NewNotificationRepository создаёт репозиторий уведомлений.
func NewNotificationRepository(db DBTX) NotificationRepository {
	return &notificationRepo{db: db}
}

const notificationColumns = `id, user_id, project_id, title, message, type, priority,
	is_read, is_deleted, metadata, request_id, created_at, read_at, deleted_at`

func scanNotification(row pgx.Row) (*model.Notification, error) {
	n := &model.Notification{}
	err := row.Scan(
		&n.ID, &n.UserID, &n.ProjectID, &n.Title, &n.Message, &n.Type, &n.Priority,
		&n.IsRead, &n.IsDeleted, &n.Metadata, &n.RequestID, &n.CreatedAt, &n.ReadAt, &n.DeletedAt,
	)
	return n, err
}

func (r *notificationRepo) Create(ctx context.Context, n *model.Notification) (bool, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Metadata == nil {
		n.Metadata = map[string]any{}
	}

	query := `
		INSERT INTO notifications (id, user_id, project_id, title, message, type, priority, metadata, request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, request_id) WHERE request_id IS NOT NULL DO NOTHING
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query,
		n.ID, n.UserID, n.ProjectID, n.Title, n.Message, n.Type, n.Priority, n.Metadata, n.RequestID,
	).Scan(&n.CreatedAt)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) || n.RequestID == nil {
		if isForeignKeyViolation(err) {
			return false, fmt.Errorf("%w: пользователь или проект не существует", ErrNotFound)
		}
		return false, fmt.Errorf("ошибка создания уведомления: %w", err)
	}

	// Повтор с тем же request_id - возвращаем ранее созданную запись
	query = fmt.Sprintf(`SELECT %s FROM notifications WHERE user_id = $1 AND request_id = $2`, notificationColumns)
	existing, err := scanNotification(r.db.QueryRow(ctx, query, n.UserID, *n.RequestID))
	if err != nil {
		return false, notFoundOr(err, "ошибка получения уведомления по request_id")
	}
	*n = *existing
	return false, nil
}

func (r *notificationRepo) GetByID(ctx context.Context, id string) (*model.Notification, error) {
	query := fmt.Sprintf(`SELECT %s FROM notifications WHERE id = $1`, notificationColumns)
	n, err := scanNotification(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFoundOr(err, "ошибка получения уведомления")
	}
	return n, nil
}

func (r *notificationRepo) ListForUser(ctx context.Context, userID string, f model.NotificationFilter) ([]*model.Notification, error) {
	conditions := []string{"user_id = $1"}
	args := []any{userID}
	argNum := 2

	if !f.IncludeDeleted {
		conditions = append(conditions, "NOT is_deleted")
	}
	if f.ProjectID != nil {
		conditions = append(conditions, fmt.Sprintf("project_id = $%d", argNum))
		args = append(args, *f.ProjectID)
		argNum++
	}
	if f.Since != nil {
		conditions = append(conditions, fmt.Sprintf("created_at > $%d", argNum))
		args = append(args, *f.Since)
		argNum++
	}

	limit := ""
	if f.Limit > 0 {
		limit = fmt.Sprintf("LIMIT $%d", argNum)
		args = append(args, f.Limit)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM notifications
		WHERE %s
		ORDER BY created_at DESC, id DESC
		%s`, notificationColumns, strings.Join(conditions, " AND "), limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения уведомлений: %w", err)
	}
	defer rows.Close()

	result := make([]*model.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования уведомления: %w", err)
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

func (r *notificationRepo) MarkAsRead(ctx context.Context, id string) (*model.Notification, error) {
	query := fmt.Sprintf(`
		UPDATE notifications
		SET is_read = TRUE, read_at = COALESCE(read_at, NOW())
		WHERE id = $1
		RETURNING %s`, notificationColumns)
	n, err := scanNotification(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFoundOr(err, "ошибка пометки уведомления прочитанным")
	}
	return n, nil
}

func (r *notificationRepo) MarkAllAsRead(ctx context.Context, userID string, projectID *string) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE notifications
		SET is_read = TRUE, read_at = NOW()
		WHERE user_id = $1 AND NOT is_read AND NOT is_deleted
		  AND ($2::uuid IS NULL OR project_id = $2)`, userID, projectID)
	if err != nil {
		return 0, fmt.Errorf("ошибка пометки всех уведомлений прочитанными: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *notificationRepo) SoftDelete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE notifications
		SET is_deleted = TRUE, deleted_at = COALESCE(deleted_at, NOW())
		WHERE id = $1`, id)
	if err != nil {
		return notFoundOr(err, "ошибка удаления уведомления")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *notificationRepo) ClearAll(ctx context.Context, userID string, projectID *string) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE notifications
		SET is_deleted = TRUE, deleted_at = NOW()
		WHERE user_id = $1 AND NOT is_deleted
		  AND ($2::uuid IS NULL OR project_id = $2)`, userID, projectID)
	if err != nil {
		return 0, fmt.Errorf("ошибка очистки уведомлений: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *notificationRepo) BulkMarkRead(ctx context.Context, userID string, ids []string) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE notifications
		SET is_read = TRUE, read_at = NOW()
		WHERE user_id = $1 AND id = ANY($2::uuid[]) AND NOT is_read`, userID, ids)
	if err != nil {
		return 0, notFoundOr(err, "ошибка массовой пометки уведомлений")
	}
	return tag.RowsAffected(), nil
}

func (r *notificationRepo) BulkDelete(ctx context.Context, userID string, ids []string) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE notifications
		SET is_deleted = TRUE, deleted_at = NOW()
		WHERE user_id = $1 AND id = ANY($2::uuid[]) AND NOT is_deleted`, userID, ids)
	if err != nil {
		return 0, notFoundOr(err, "ошибка массового удаления уведомлений")
	}
	return tag.RowsAffected(), nil
}

func (r *notificationRepo) UnreadCount(ctx context.Context, userID string, projectID *string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE user_id = $1 AND NOT is_read AND NOT is_deleted
		  AND ($2::uuid IS NULL OR project_id = $2)`, userID, projectID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта непрочитанных: %w", err)
	}
	return n, nil
}

func (r *notificationRepo) SoftDeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE notifications
		SET is_deleted = TRUE, deleted_at = NOW()
		WHERE is_read AND NOT is_deleted AND created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("ошибка очистки устаревших уведомлений: %w", err)
	}
	return tag.RowsAffected(), nil
}
