package model

import "time"

// Типы уведомлений.
const (
	NotificationTypeInfo    = "info"
	NotificationTypeSuccess = "success"
	NotificationTypeWarning = "warning"
	NotificationTypeError   = "error"
	NotificationTypeAction  = "action"
)

// Приоритеты уведомлений.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Notification - уведомление пользователя.
// IsRead и IsDeleted независимы: удалённое, но непрочитанное уведомление допустимо.
// Записи не удаляются физически (мягкое удаление через IsDeleted).
type Notification struct {
	ID        string
	UserID    string
	ProjectID *string
	Title     string
	Message   string
	Type      string
	Priority  string
	IsRead    bool
	IsDeleted bool
	// Metadata - произвольные ключи: actionUrl, actionText, category
	Metadata map[string]any
	// RequestID - ключ идемпотентности создания (может быть nil)
	RequestID *string
	CreatedAt time.Time
	ReadAt    *time.Time
	DeletedAt *time.Time
}

// NotificationFilter - параметры выборки уведомлений пользователя.
type NotificationFilter struct {
	// ProjectID - только уведомления проекта (nil - все)
	ProjectID *string
	// Since - только созданные строго позже (дельта для короткого опроса)
	Since *time.Time
	// IncludeDeleted - включать мягко удалённые
	IncludeDeleted bool
	// Limit - максимум записей (0 - без ограничения)
	Limit int
}

// IsValidNotificationType проверяет тип уведомления.
func IsValidNotificationType(t string) bool {
	switch t {
	case NotificationTypeInfo, NotificationTypeSuccess, NotificationTypeWarning,
		NotificationTypeError, NotificationTypeAction:
		return true
	}
	return false
}

// IsValidPriority проверяет приоритет уведомления.
func IsValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}
