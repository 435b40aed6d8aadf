package service

import "github.com/bigkaa/project-assistant/internal/domain/rbac"

// Actor - аутентифицированный пользователь, от имени которого выполняется операция.
type Actor struct {
	UserID string
	Role   string
}

// Can проверяет разрешение по имени через rbac.
func (a Actor) Can(permission string) bool {
	return rbac.Can(a.Role, permission)
}

// IsSystemAdmin сообщает, что актор - системный администратор.
func (a Actor) IsSystemAdmin() bool {
	return a.Role == rbac.RoleSystemAdmin
}
