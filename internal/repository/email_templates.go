package repository

import (
	"context"
	"fmt"

	"github.com/bigkaa/project-assistant/internal/domain/model"
)

// EmailTemplateRepository - справочник шаблонов писем (только чтение).
type EmailTemplateRepository interface {
	// GetActive возвращает активный шаблон процесса вместе с параметрами.
	GetActive(ctx context.Context, processName string) (*model.EmailTemplate, error)
}

type emailTemplateRepo struct {
	db DBTX
}

// NewEmailTemplateRepository создаёт репозиторий шаблонов писем.
func NewEmailTemplateRepository(db DBTX) EmailTemplateRepository {
	return &emailTemplateRepo{db: db}
}

func (r *emailTemplateRepo) GetActive(ctx context.Context, processName string) (*model.EmailTemplate, error) {
	t := &model.EmailTemplate{}
	err := r.db.QueryRow(ctx, `
		SELECT id, process_name, subject, html_content, text_content, is_active, created_at
		FROM default_email_templates
		WHERE process_name = $1 AND is_active`, processName,
	).Scan(&t.ID, &t.ProcessName, &t.Subject, &t.HTMLContent, &t.TextContent, &t.IsActive, &t.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err, "ошибка получения шаблона письма")
	}

	rows, err := r.db.Query(ctx, `
		SELECT name, type, required
		FROM email_template_parameters
		WHERE template_id = $1
		ORDER BY name`, t.ID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения параметров шаблона: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p model.EmailTemplateParameter
		if err := rows.Scan(&p.Name, &p.Type, &p.Required); err != nil {
			return nil, fmt.Errorf("ошибка сканирования параметра шаблона: %w", err)
		}
		t.Parameters = append(t.Parameters, p)
	}
	return t, rows.Err()
}
