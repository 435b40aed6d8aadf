package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bigkaa/project-assistant/internal/domain/model"
)

// AuthTokenRepository - токены сброса пароля и одноразовые коды 2FA.
// Значения хранятся только в виде хэшей.
type AuthTokenRepository interface {
	CreateResetToken(ctx context.Context, t *model.PasswordResetToken) error
	GetResetToken(ctx context.Context, tokenHash string) (*model.PasswordResetToken, error)
	// UseResetToken помечает токен использованным; повторное использование - ErrConflict.
	UseResetToken(ctx context.Context, tokenHash string) error
	// InvalidateResetTokens помечает использованными все активные токены пользователя.
	InvalidateResetTokens(ctx context.Context, userID string) error

	CreateTwoFactorCode(ctx context.Context, c *model.TwoFactorCode) error
	// LatestTwoFactorCode возвращает последний непогашенный код пользователя.
	LatestTwoFactorCode(ctx context.Context, userID string) (*model.TwoFactorCode, error)
	// IncrementAttempts увеличивает счётчик неверных попыток и возвращает новое значение.
	IncrementAttempts(ctx context.Context, id string) (int, error)
	// ConsumeTwoFactorCode гасит код; уже погашенный - ErrConflict.
	ConsumeTwoFactorCode(ctx context.Context, id string) error
	// InvalidateTwoFactorCodes гасит все коды пользователя.
	InvalidateTwoFactorCodes(ctx context.Context, userID string) error
}

type authTokenRepo struct {
	db DBTX
}

// NewAuthTokenRepository создаёт репозиторий токенов аутентификации.
func NewAuthTokenRepository(db DBTX) AuthTokenRepository {
	return &authTokenRepo{db: db}
}

func (r *authTokenRepo) CreateResetToken(ctx context.Context, t *model.PasswordResetToken) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO password_reset_tokens (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		RETURNING created_at`, t.TokenHash, t.UserID, t.ExpiresAt,
	).Scan(&t.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: токен уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка сохранения токена сброса: %w", err)
	}
	return nil
}

func (r *authTokenRepo) GetResetToken(ctx context.Context, tokenHash string) (*model.PasswordResetToken, error) {
	t := &model.PasswordResetToken{}
	err := r.db.QueryRow(ctx, `
		SELECT token_hash, user_id, expires_at, used_at, created_at
		FROM password_reset_tokens WHERE token_hash = $1`, tokenHash,
	).Scan(&t.TokenHash, &t.UserID, &t.ExpiresAt, &t.UsedAt, &t.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err, "ошибка получения токена сброса")
	}
	return t, nil
}

func (r *authTokenRepo) UseResetToken(ctx context.Context, tokenHash string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE password_reset_tokens SET used_at = NOW()
		WHERE token_hash = $1 AND used_at IS NULL`, tokenHash)
	if err != nil {
		return fmt.Errorf("ошибка использования токена сброса: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: токен уже использован", ErrConflict)
	}
	return nil
}

func (r *authTokenRepo) InvalidateResetTokens(ctx context.Context, userID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE password_reset_tokens SET used_at = NOW()
		WHERE user_id = $1 AND used_at IS NULL`, userID)
	if err != nil {
		return fmt.Errorf("ошибка аннулирования токенов сброса: %w", err)
	}
	return nil
}

func (r *authTokenRepo) CreateTwoFactorCode(ctx context.Context, c *model.TwoFactorCode) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO two_factor_codes (id, user_id, code_hash, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING attempts, created_at`, c.ID, c.UserID, c.CodeHash, c.ExpiresAt,
	).Scan(&c.Attempts, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка сохранения кода 2FA: %w", err)
	}
	return nil
}

func (r *authTokenRepo) LatestTwoFactorCode(ctx context.Context, userID string) (*model.TwoFactorCode, error) {
	c := &model.TwoFactorCode{}
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, code_hash, expires_at, attempts, consumed_at, created_at
		FROM two_factor_codes
		WHERE user_id = $1 AND consumed_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1`, userID,
	).Scan(&c.ID, &c.UserID, &c.CodeHash, &c.ExpiresAt, &c.Attempts, &c.ConsumedAt, &c.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err, "ошибка получения кода 2FA")
	}
	return c, nil
}

func (r *authTokenRepo) IncrementAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := r.db.QueryRow(ctx, `
		UPDATE two_factor_codes SET attempts = attempts + 1
		WHERE id = $1
		RETURNING attempts`, id).Scan(&attempts)
	if err != nil {
		return 0, notFoundOr(err, "ошибка учёта попытки 2FA")
	}
	return attempts, nil
}

func (r *authTokenRepo) ConsumeTwoFactorCode(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE two_factor_codes SET consumed_at = NOW()
		WHERE id = $1 AND consumed_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("ошибка погашения кода 2FA: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: код уже использован", ErrConflict)
	}
	return nil
}

func (r *authTokenRepo) InvalidateTwoFactorCodes(ctx context.Context, userID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE two_factor_codes SET consumed_at = NOW()
		WHERE user_id = $1 AND consumed_at IS NULL`, userID)
	if err != nil {
		return fmt.Errorf("ошибка аннулирования кодов 2FA: %w", err)
	}
	return nil
}
