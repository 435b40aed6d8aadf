package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/project-assistant/internal/domain/model"
)

// UserRepository - интерфейс CRUD для таблицы users.
type UserRepository interface {
	// Create создаёт пользователя. ID генерируется, если не задан.
	Create(ctx context.Context, u *model.User) error
	// GetByID возвращает пользователя по UUID.
	GetByID(ctx context.Context, id string) (*model.User, error)
	// GetByLogin ищет пользователя по email или username без учёта регистра.
	GetByLogin(ctx context.Context, login string) (*model.User, error)
	// GetByEmail ищет пользователя по email без учёта регистра.
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// List возвращает пользователей, упорядоченных по username.
	List(ctx context.Context, limit, offset int) ([]*model.User, error)
	// Count возвращает общее количество пользователей.
	Count(ctx context.Context) (int, error)
	// Update сохраняет роль, активность и флаг 2FA.
	Update(ctx context.Context, u *model.User) error
	// UpdatePassword заменяет хэш пароля.
	UpdatePassword(ctx context.Context, id, hash string) error
	// TouchLastLogin отмечает время успешного входа.
	TouchLastLogin(ctx context.Context, id string) error
}

type userRepo struct {
	db DBTX
}

// NewUserRepository создаёт репозиторий пользователей.
func NewUserRepository(db DBTX) UserRepository {
	return &userRepo{db: db}
}

const userColumns = `id, email, username, password_hash, global_role, is_active,
	two_factor_enabled, last_login_at, created_at, updated_at`

func scanUser(row pgx.Row) (*model.User, error) {
	u := &model.User{}
	err := row.Scan(
		&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.GlobalRole, &u.IsActive,
		&u.TwoFactorEnabled, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt,
	)
	return u, err
}

func (r *userRepo) Create(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	query := `
		INSERT INTO users (id, email, username, password_hash, global_role, is_active, two_factor_enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		u.ID, strings.TrimSpace(u.Email), strings.TrimSpace(u.Username), u.PasswordHash,
		u.GlobalRole, u.IsActive, u.TwoFactorEnabled,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: пользователь с таким email или username уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания пользователя: %w", err)
	}
	return nil
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns)
	u, err := scanUser(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFoundOr(err, "ошибка получения пользователя")
	}
	return u, nil
}

func (r *userRepo) GetByLogin(ctx context.Context, login string) (*model.User, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM users
		WHERE LOWER(email) = LOWER($1) OR LOWER(username) = LOWER($1)
		LIMIT 1`, userColumns)
	u, err := scanUser(r.db.QueryRow(ctx, query, strings.TrimSpace(login)))
	if err != nil {
		return nil, notFoundOr(err, "ошибка поиска пользователя")
	}
	return u, nil
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE LOWER(email) = LOWER($1)`, userColumns)
	u, err := scanUser(r.db.QueryRow(ctx, query, strings.TrimSpace(email)))
	if err != nil {
		return nil, notFoundOr(err, "ошибка поиска пользователя по email")
	}
	return u, nil
}

func (r *userRepo) List(ctx context.Context, limit, offset int) ([]*model.User, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM users
		ORDER BY LOWER(username)
		LIMIT $1 OFFSET $2`, userColumns)

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка пользователей: %w", err)
	}
	defer rows.Close()

	var result []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования пользователя: %w", err)
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (r *userRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта пользователей: %w", err)
	}
	return n, nil
}

func (r *userRepo) Update(ctx context.Context, u *model.User) error {
	query := `
		UPDATE users
		SET global_role = $2, is_active = $3, two_factor_enabled = $4
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query, u.ID, u.GlobalRole, u.IsActive, u.TwoFactorEnabled).Scan(&u.UpdatedAt)
	if err != nil {
		return notFoundOr(err, "ошибка обновления пользователя")
	}
	return nil
}

func (r *userRepo) UpdatePassword(ctx context.Context, id, hash string) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, hash)
	if err != nil {
		return fmt.Errorf("ошибка обновления пароля: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepo) TouchLastLogin(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET last_login_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка обновления last_login_at: %w", err)
	}
	return nil
}
