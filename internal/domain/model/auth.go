package model

import "time"

// PasswordResetToken - одноразовый токен сброса пароля (хранится только хэш).
type PasswordResetToken struct {
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// Usable - токен не использован и не истёк на момент now.
func (t *PasswordResetToken) Usable(now time.Time) bool {
	return t.UsedAt == nil && now.Before(t.ExpiresAt)
}

// TwoFactorCode - одноразовый код подтверждения входа (хранится только хэш).
type TwoFactorCode struct {
	ID         string
	UserID     string
	CodeHash   string
	ExpiresAt  time.Time
	Attempts   int
	ConsumedAt *time.Time
	CreatedAt  time.Time
}
