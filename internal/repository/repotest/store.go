// Пакет repotest - хранилище в памяти, реализующее repository.Store.
// Используется в unit-тестах сервисов и HTTP-обработчиков вместо PostgreSQL.
// Семантика повторяет SQL-реализацию: ErrNotFound/ErrConflict,
// уникальность, мягкое удаление, оптимистическая блокировка версий.
package repotest

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/bigkaa/project-assistant/internal/domain/model"
	"github.com/bigkaa/project-assistant/internal/repository"
)

// state - таблицы. Записи в картах не изменяются на месте:
// обновление всегда кладёт новую копию, поэтому снимок для отката
// транзакции - поверхностная копия карт.
type state struct {
	users         map[string]*model.User
	projects      map[string]*model.Project
	members       map[memberKey]*model.ProjectMember
	notifications map[string]*model.Notification
	folders       map[string]*model.KnowledgeFolder
	documents     map[string]*model.KnowledgeDocument
	versions      map[string][]*model.DocumentVersion
	submissions   map[string]*model.AgentSubmission
	templates     map[string]*model.EmailTemplate
	resetTokens   map[string]*model.PasswordResetToken
	codes         map[string]*model.TwoFactorCode
}

type memberKey struct {
	projectID string
	userID    string
}

func newState() *state {
	return &state{
		users:         map[string]*model.User{},
		projects:      map[string]*model.Project{},
		members:       map[memberKey]*model.ProjectMember{},
		notifications: map[string]*model.Notification{},
		folders:       map[string]*model.KnowledgeFolder{},
		documents:     map[string]*model.KnowledgeDocument{},
		versions:      map[string][]*model.DocumentVersion{},
		submissions:   map[string]*model.AgentSubmission{},
		templates:     map[string]*model.EmailTemplate{},
		resetTokens:   map[string]*model.PasswordResetToken{},
		codes:         map[string]*model.TwoFactorCode{},
	}
}

func (s *state) snapshot() *state {
	versions := make(map[string][]*model.DocumentVersion, len(s.versions))
	for k, v := range s.versions {
		versions[k] = slices.Clone(v)
	}
	return &state{
		users:         maps.Clone(s.users),
		projects:      maps.Clone(s.projects),
		members:       maps.Clone(s.members),
		notifications: maps.Clone(s.notifications),
		folders:       maps.Clone(s.folders),
		documents:     maps.Clone(s.documents),
		versions:      versions,
		submissions:   maps.Clone(s.submissions),
		templates:     maps.Clone(s.templates),
		resetTokens:   maps.Clone(s.resetTokens),
		codes:         maps.Clone(s.codes),
	}
}

var _ repository.Store = (*Store)(nil)

// Store - repository.Store в памяти.
type Store struct {
	mu    sync.Mutex
	txMu  sync.Mutex
	st    *state
	clock time.Time
	repos *repository.Repos
}

// New создаёт пустое хранилище с шаблонами писем по умолчанию.
func New() *Store {
	s := &Store{
		st:    newState(),
		clock: time.Now().UTC(),
	}
	s.repos = &repository.Repos{
		Users:          &userRepo{s: s},
		Projects:       &projectRepo{s: s},
		Notifications:  &notificationRepo{s: s},
		Folders:        &folderRepo{s: s},
		Documents:      &documentRepo{s: s},
		Submissions:    &submissionRepo{s: s},
		EmailTemplates: &emailTemplateRepo{s: s},
		AuthTokens:     &authTokenRepo{s: s},
	}
	for _, tpl := range DefaultTemplates() {
		s.st.templates[tpl.ProcessName] = tpl
	}
	return s
}

// Repos возвращает репозитории хранилища.
func (s *Store) Repos() *repository.Repos {
	return s.repos
}

// InTx выполняет fn и откатывает все изменения, если fn вернула ошибку.
// Транзакции выполняются последовательно.
func (s *Store) InTx(_ context.Context, fn func(r *repository.Repos) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	saved := s.st.snapshot()
	s.mu.Unlock()

	if err := fn(s.repos); err != nil {
		s.mu.Lock()
		s.st = saved
		s.mu.Unlock()
		return err
	}
	return nil
}

// Advance сдвигает внутренние часы хранилища (created_at новых записей).
func (s *Store) Advance(d time.Duration) {
	s.mu.Lock()
	s.clock = s.clock.Add(d)
	s.mu.Unlock()
}

// SetNotificationCreatedAt меняет время создания уведомления (для тестов retention).
func (s *Store) SetNotificationCreatedAt(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.st.notifications[id]; ok {
		c := *n
		c.CreatedAt = at
		s.st.notifications[id] = &c
	}
}

// CorruptFolderParent записывает родителя в обход проверок сервиса.
// Позволяет воспроизвести цикл, появившийся вне приложения.
func (s *Store) CorruptFolderParent(id string, parentID *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.st.folders[id]; ok {
		c := *f
		c.ParentFolderID = parentID
		s.st.folders[id] = &c
	}
}

// SetFolderCounters перезаписывает счётчики папки (для тестов пересчёта).
func (s *Store) SetFolderCounters(id string, documents, subfolders int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.st.folders[id]; ok {
		c := *f
		c.DocumentCount = documents
		c.SubfolderCount = subfolders
		s.st.folders[id] = &c
	}
}

// tick возвращает следующую метку времени; вызывается под s.mu.
// Метки строго возрастают, что делает порядок created_at детерминированным.
func (s *Store) tick() time.Time {
	s.clock = s.clock.Add(time.Millisecond)
	return s.clock
}

// DefaultTemplates возвращает шаблоны писем, которые засевает миграция 000005.
func DefaultTemplates() []*model.EmailTemplate {
	param := func(specs ...string) []model.EmailTemplateParameter {
		out := make([]model.EmailTemplateParameter, 0, len(specs)/2)
		for i := 0; i+1 < len(specs); i += 2 {
			out = append(out, model.EmailTemplateParameter{Name: specs[i], Type: specs[i+1], Required: true})
		}
		return out
	}
	return []*model.EmailTemplate{
		{
			ID: "tpl-reset", ProcessName: "password_reset", IsActive: true,
			Subject:     "Project Assistant: сброс пароля",
			HTMLContent: `<p>Здравствуйте, {{{USER_NAME}}}!</p><p><a href="{{{RESET_LINK}}}">{{{RESET_LINK}}}</a></p><p>{{{EXPIRES_MINUTES}}} минут.</p>`,
			TextContent: "Здравствуйте, {{{USER_NAME}}}!\n\nСсылка: {{{RESET_LINK}}}\nДействительна {{{EXPIRES_MINUTES}}} минут.",
			Parameters:  param("EXPIRES_MINUTES", "number", "RESET_LINK", "url", "USER_NAME", "string"),
		},
		{
			ID: "tpl-2fa", ProcessName: "two_factor_code", IsActive: true,
			Subject:     "Project Assistant: код подтверждения",
			HTMLContent: `<p>Здравствуйте, {{{USER_NAME}}}!</p><p>Ваш код: <strong>{{{CODE}}}</strong></p>`,
			TextContent: "Здравствуйте, {{{USER_NAME}}}!\n\nВаш код подтверждения: {{{CODE}}}\nКод действителен {{{EXPIRES_MINUTES}}} минут.",
			Parameters:  param("CODE", "string", "EXPIRES_MINUTES", "number", "USER_NAME", "string"),
		},
		{
			ID: "tpl-changed", ProcessName: "password_changed", IsActive: true,
			Subject:     "Project Assistant: пароль изменён",
			HTMLContent: `<p>Здравствуйте, {{{USER_NAME}}}!</p><p>Пароль изменён {{{CHANGED_AT}}}.</p>`,
			TextContent: "Здравствуйте, {{{USER_NAME}}}!\n\nПароль изменён {{{CHANGED_AT}}}.",
			Parameters:  param("CHANGED_AT", "datetime", "USER_NAME", "string"),
		},
		{
			ID: "tpl-digest", ProcessName: "notification_digest", IsActive: true,
			Subject:     "Project Assistant: непрочитанные уведомления ({{{UNREAD_COUNT}}})",
			HTMLContent: `<p>Здравствуйте, {{{USER_NAME}}}!</p><p>У вас {{{UNREAD_COUNT}}} непрочитанных уведомлений.</p>`,
			TextContent: "Здравствуйте, {{{USER_NAME}}}!\n\nУ вас {{{UNREAD_COUNT}}} непрочитанных уведомлений.",
			Parameters:  param("UNREAD_COUNT", "number", "USER_NAME", "string"),
		},
	}
}
