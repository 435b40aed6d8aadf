// Пакет rbac - глобальные роли Project Assistant и проверка разрешений.
// Роли упорядочены: guest < user < project_admin < system_admin.
// Разрешение - строковое имя, за которым закреплена минимальная роль.
package rbac

// Глобальные роли в порядке возрастания привилегий.
const (
	RoleGuest        = "guest"
	RoleUser         = "user"
	RoleProjectAdmin = "project_admin"
	RoleSystemAdmin  = "system_admin"
)

// Имена разрешений.
const (
	// PermNotificationsCreateForOthers - создание уведомлений для других пользователей
	PermNotificationsCreateForOthers = "notifications:create_for_others"
	// PermKnowledgeRead - чтение базы знаний
	PermKnowledgeRead = "knowledge:read"
	// PermKnowledgeWrite - создание и изменение папок и документов
	PermKnowledgeWrite = "knowledge:write"
	// PermKnowledgeAdmin - обработка заявок агентов, пересчёт счётчиков
	PermKnowledgeAdmin = "knowledge:admin"
	// PermUsersAdmin - управление пользователями и проектами
	PermUsersAdmin = "users:admin"
)

// roleWeight - вес роли для сравнения.
// Чем выше вес, тем больше привилегий.
var roleWeight = map[string]int{
	RoleGuest:        1,
	RoleUser:         2,
	RoleProjectAdmin: 3,
	RoleSystemAdmin:  4,
}

// permissionMinRole - минимальная роль для каждого разрешения.
var permissionMinRole = map[string]string{
	PermKnowledgeRead:                RoleGuest,
	PermKnowledgeWrite:               RoleUser,
	PermKnowledgeAdmin:               RoleProjectAdmin,
	PermNotificationsCreateForOthers: RoleSystemAdmin,
	PermUsersAdmin:                   RoleSystemAdmin,
}

// AtLeast сообщает, что роль role не ниже min.
// Неизвестная роль не проходит ни одну проверку.
func AtLeast(role, min string) bool {
	w, ok := roleWeight[role]
	if !ok {
		return false
	}
	return w >= roleWeight[min]
}

// Can проверяет, даёт ли роль разрешение permission.
// Неизвестное разрешение запрещено для всех.
func Can(role, permission string) bool {
	min, ok := permissionMinRole[permission]
	if !ok {
		return false
	}
	return AtLeast(role, min)
}

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(role string) bool {
	_, ok := roleWeight[role]
	return ok
}

// MaxRole возвращает роль с максимальными привилегиями из двух.
func MaxRole(a, b string) string {
	if roleWeight[a] >= roleWeight[b] {
		return a
	}
	return b
}
