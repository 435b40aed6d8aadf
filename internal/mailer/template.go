// Пакет mailer - рендеринг шаблонов писем и отправка через SMTP.
// Шаблоны хранятся в БД (default_email_templates), подстановки - {{{NAME}}}.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/bigkaa/project-assistant/internal/domain/model"
)

// Имена процессов, для которых есть шаблоны.
const (
	TemplatePasswordReset      = "password_reset"
	TemplateTwoFactorCode      = "two_factor_code"
	TemplatePasswordChanged    = "password_changed"
	TemplateNotificationDigest = "notification_digest"
)

// ErrMissingParameter - не передан обязательный параметр шаблона.
var ErrMissingParameter = errors.New("не передан обязательный параметр шаблона")

var placeholderRe = regexp.MustCompile(`\{\{\{([A-Za-z0-9_]+)\}\}\}`)

// strictPolicy удаляет любую разметку из подставляемых значений HTML-части.
var strictPolicy = bluemonday.StrictPolicy()

// Message - готовое к отправке письмо.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Render подставляет параметры в шаблон. Обязательные параметры проверяются
// по описанию шаблона; плейсхолдеры без значения заменяются пустой строкой.
// В HTML-части значения очищаются от разметки, в теме - от переводов строк.
func Render(tpl *model.EmailTemplate, params map[string]string) (*Message, error) {
	var missing []string
	for _, p := range tpl.Parameters {
		if p.Required && strings.TrimSpace(params[p.Name]) == "" {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s (шаблон %s)", ErrMissingParameter, strings.Join(missing, ", "), tpl.ProcessName)
	}

	replace := func(src string, escape func(string) string) string {
		return placeholderRe.ReplaceAllStringFunc(src, func(m string) string {
			name := placeholderRe.FindStringSubmatch(m)[1]
			return escape(params[name])
		})
	}

	return &Message{
		Subject: replace(tpl.Subject, headerSafe),
		HTML:    replace(tpl.HTMLContent, strictPolicy.Sanitize),
		Text:    replace(tpl.TextContent, func(s string) string { return s }),
	}, nil
}

func headerSafe(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

// TemplateSource - источник шаблонов писем.
type TemplateSource interface {
	GetActive(ctx context.Context, processName string) (*model.EmailTemplate, error)
}
