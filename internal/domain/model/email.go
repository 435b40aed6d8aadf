package model

import "time"

// EmailTemplate - шаблон письма из default_email_templates.
// Подстановки в формате {{{NAME}}}.
type EmailTemplate struct {
	ID          string
	ProcessName string
	Subject     string
	HTMLContent string
	TextContent string
	IsActive    bool
	Parameters  []EmailTemplateParameter
	CreatedAt   time.Time
}

// EmailTemplateParameter - описание параметра шаблона.
type EmailTemplateParameter struct {
	Name     string
	Type     string
	Required bool
}
