// Пакет model - доменные модели Project Assistant.
package model

import "time"

// User - учётная запись пользователя. Хранится в таблице users.
type User struct {
	// ID - UUID пользователя
	ID string
	// Email - адрес электронной почты (уникален без учёта регистра)
	Email string
	// Username - имя пользователя (уникально без учёта регистра)
	Username string
	// PasswordHash - bcrypt-хэш пароля
	PasswordHash string
	// GlobalRole - глобальная роль (system_admin, project_admin, user, guest)
	GlobalRole string
	// IsActive - активна ли учётная запись
	IsActive bool
	// TwoFactorEnabled - требуется ли подтверждение входа кодом из email
	TwoFactorEnabled bool
	// LastLoginAt - время последнего успешного входа
	LastLoginAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Project - проект (арендатор). Папки и документы базы знаний принадлежат проекту.
type Project struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// ProjectMember - участие пользователя в проекте.
type ProjectMember struct {
	ProjectID string
	UserID    string
	Role      string
	CreatedAt time.Time
}
