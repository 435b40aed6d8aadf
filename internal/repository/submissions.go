package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/project-assistant/internal/domain/model"
)

// SubmissionRepository - заявки агентов.
type SubmissionRepository interface {
	Create(ctx context.Context, s *model.AgentSubmission) error
	// GetByID возвращает заявку проекта.
	GetByID(ctx context.Context, projectID, id string) (*model.AgentSubmission, error)
	// GetForUpdate блокирует строку заявки до конца транзакции.
	GetForUpdate(ctx context.Context, projectID, id string) (*model.AgentSubmission, error)
	// List возвращает заявки проекта по убыванию created_at; status nil - все.
	List(ctx context.Context, projectID string, status *string) ([]*model.AgentSubmission, error)
	// Finish переводит заявку из pending в конечный статус.
	// Если заявка уже не pending - ErrConflict.
	Finish(ctx context.Context, s *model.AgentSubmission) error
}

type submissionRepo struct {
	db DBTX
}

// NewSubmissionRepository создаёт репозиторий заявок агентов.
func NewSubmissionRepository(db DBTX) SubmissionRepository {
	return &submissionRepo{db: db}
}

const submissionColumns = `id, project_id, agent_id, agent_name, submission_type, title, content,
	file_name, status, metadata, document_id, processed_by, processed_at, created_at`

func scanSubmission(row pgx.Row) (*model.AgentSubmission, error) {
	s := &model.AgentSubmission{}
	err := row.Scan(
		&s.ID, &s.ProjectID, &s.AgentID, &s.AgentName, &s.SubmissionType, &s.Title, &s.Content,
		&s.FileName, &s.Status, &s.Metadata, &s.DocumentID, &s.ProcessedBy, &s.ProcessedAt, &s.CreatedAt,
	)
	return s, err
}

func (r *submissionRepo) Create(ctx context.Context, s *model.AgentSubmission) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}
	s.Status = model.SubmissionPending

	err := r.db.QueryRow(ctx, `
		INSERT INTO agent_submissions (id, project_id, agent_id, agent_name, submission_type, title,
			content, file_name, status, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`,
		s.ID, s.ProjectID, s.AgentID, s.AgentName, s.SubmissionType, s.Title,
		s.Content, s.FileName, s.Status, s.Metadata,
	).Scan(&s.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: проект не существует", ErrNotFound)
		}
		return fmt.Errorf("ошибка создания заявки агента: %w", err)
	}
	return nil
}

func (r *submissionRepo) GetByID(ctx context.Context, projectID, id string) (*model.AgentSubmission, error) {
	query := fmt.Sprintf(`SELECT %s FROM agent_submissions WHERE id = $1 AND project_id = $2`, submissionColumns)
	s, err := scanSubmission(r.db.QueryRow(ctx, query, id, projectID))
	if err != nil {
		return nil, notFoundOr(err, "ошибка получения заявки агента")
	}
	return s, nil
}

func (r *submissionRepo) GetForUpdate(ctx context.Context, projectID, id string) (*model.AgentSubmission, error) {
	query := fmt.Sprintf(`SELECT %s FROM agent_submissions WHERE id = $1 AND project_id = $2 FOR UPDATE`, submissionColumns)
	s, err := scanSubmission(r.db.QueryRow(ctx, query, id, projectID))
	if err != nil {
		return nil, notFoundOr(err, "ошибка блокировки заявки агента")
	}
	return s, nil
}

func (r *submissionRepo) List(ctx context.Context, projectID string, status *string) ([]*model.AgentSubmission, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM agent_submissions
		WHERE project_id = $1 AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC, id`, submissionColumns)

	rows, err := r.db.Query(ctx, query, projectID, status)
	if err != nil {
		return nil, notFoundOr(err, "ошибка получения заявок агентов")
	}
	defer rows.Close()

	result := make([]*model.AgentSubmission, 0)
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования заявки: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (r *submissionRepo) Finish(ctx context.Context, s *model.AgentSubmission) error {
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE agent_submissions
		SET status = $2, metadata = $3, document_id = $4, processed_by = $5, processed_at = NOW()
		WHERE id = $1 AND status = 'pending'`,
		s.ID, s.Status, s.Metadata, s.DocumentID, s.ProcessedBy)
	if err != nil {
		return fmt.Errorf("ошибка обработки заявки агента: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: заявка уже обработана", ErrConflict)
	}
	return nil
}
