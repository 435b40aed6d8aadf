package mailer

import (
	"context"
	"fmt"
	"log/slog"
)

// Mailer загружает шаблон процесса, рендерит его и отправляет письмо.
type Mailer struct {
	templates TemplateSource
	sender    Sender
	logger    *slog.Logger
}

// New создаёт Mailer.
func New(templates TemplateSource, sender Sender, logger *slog.Logger) *Mailer {
	return &Mailer{
		templates: templates,
		sender:    sender,
		logger:    logger.With(slog.String("component", "mailer")),
	}
}

// SendTemplate отправляет письмо по шаблону processName.
func (m *Mailer) SendTemplate(ctx context.Context, to, processName string, params map[string]string) error {
	tpl, err := m.templates.GetActive(ctx, processName)
	if err != nil {
		return fmt.Errorf("шаблон %s: %w", processName, err)
	}

	msg, err := Render(tpl, params)
	if err != nil {
		return err
	}
	msg.To = to

	if err := m.sender.Send(ctx, msg); err != nil {
		m.logger.Error("Ошибка отправки письма",
			slog.String("process", processName),
			slog.String("to", to),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("отправка письма %s: %w", processName, err)
	}

	m.logger.Debug("Письмо отправлено",
		slog.String("process", processName),
		slog.String("to", to),
	)
	return nil
}
