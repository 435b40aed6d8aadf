package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bigkaa/project-assistant/internal/domain/model"
)

// ProjectRepository - проекты и участники проектов.
type ProjectRepository interface {
	Create(ctx context.Context, p *model.Project) error
	GetByID(ctx context.Context, id string) (*model.Project, error)
	// List возвращает все проекты по имени.
	List(ctx context.Context) ([]*model.Project, error)
	// ListForUser возвращает проекты, в которых пользователь участвует.
	ListForUser(ctx context.Context, userID string) ([]*model.Project, error)
	// AddMember добавляет участника или обновляет его роль.
	AddMember(ctx context.Context, m *model.ProjectMember) error
	RemoveMember(ctx context.Context, projectID, userID string) error
	ListMembers(ctx context.Context, projectID string) ([]*model.ProjectMember, error)
	// IsMember проверяет участие пользователя в проекте.
	IsMember(ctx context.Context, projectID, userID string) (bool, error)
}

type projectRepo struct {
	db DBTX
}

// NewProjectRepository создаёт репозиторий проектов.
func NewProjectRepository(db DBTX) ProjectRepository {
	return &projectRepo{db: db}
}

func (r *projectRepo) Create(ctx context.Context, p *model.Project) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	err := r.db.QueryRow(ctx,
		`INSERT INTO projects (id, name) VALUES ($1, $2) RETURNING created_at`,
		p.ID, p.Name,
	).Scan(&p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: проект %q уже существует", ErrConflict, p.Name)
		}
		return fmt.Errorf("ошибка создания проекта: %w", err)
	}
	return nil
}

func (r *projectRepo) GetByID(ctx context.Context, id string) (*model.Project, error) {
	p := &model.Project{}
	err := r.db.QueryRow(ctx,
		`SELECT id, name, created_at FROM projects WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err, "ошибка получения проекта")
	}
	return p, nil
}

func (r *projectRepo) List(ctx context.Context) ([]*model.Project, error) {
	return r.queryProjects(ctx, `SELECT id, name, created_at FROM projects ORDER BY name`)
}

func (r *projectRepo) ListForUser(ctx context.Context, userID string) ([]*model.Project, error) {
	return r.queryProjects(ctx, `
		SELECT p.id, p.name, p.created_at
		FROM projects p
		JOIN project_members m ON m.project_id = p.id
		WHERE m.user_id = $1
		ORDER BY p.name`, userID)
}

func (r *projectRepo) queryProjects(ctx context.Context, query string, args ...any) ([]*model.Project, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения проектов: %w", err)
	}
	defer rows.Close()

	var result []*model.Project
	for rows.Next() {
		p := &model.Project{}
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования проекта: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (r *projectRepo) AddMember(ctx context.Context, m *model.ProjectMember) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO project_members (project_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (project_id, user_id) DO UPDATE SET role = EXCLUDED.role
		RETURNING created_at`,
		m.ProjectID, m.UserID, m.Role,
	).Scan(&m.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка добавления участника: %w", err)
	}
	return nil
}

func (r *projectRepo) RemoveMember(ctx context.Context, projectID, userID string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM project_members WHERE project_id = $1 AND user_id = $2`, projectID, userID)
	if err != nil {
		return fmt.Errorf("ошибка удаления участника: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *projectRepo) ListMembers(ctx context.Context, projectID string) ([]*model.ProjectMember, error) {
	rows, err := r.db.Query(ctx, `
		SELECT project_id, user_id, role, created_at
		FROM project_members WHERE project_id = $1
		ORDER BY created_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения участников: %w", err)
	}
	defer rows.Close()

	var result []*model.ProjectMember
	for rows.Next() {
		m := &model.ProjectMember{}
		if err := rows.Scan(&m.ProjectID, &m.UserID, &m.Role, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования участника: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (r *projectRepo) IsMember(ctx context.Context, projectID, userID string) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM project_members WHERE project_id = $1 AND user_id = $2)`,
		projectID, userID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки участия в проекте: %w", err)
	}
	return ok, nil
}
