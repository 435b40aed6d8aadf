package service

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/bigkaa/project-assistant/internal/domain/diff"
	"github.com/bigkaa/project-assistant/internal/domain/model"
	"github.com/bigkaa/project-assistant/internal/domain/password"
	"github.com/bigkaa/project-assistant/internal/domain/rbac"
	"github.com/bigkaa/project-assistant/internal/repository/repotest"
	"github.com/bigkaa/project-assistant/internal/token"
)

const testPassword = "Secret#123"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sentMail - письмо, перехваченное fakeMailer.
type sentMail struct {
	to      string
	process string
	params  map[string]string
}

// fakeMailer запоминает письма вместо отправки.
type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *fakeMailer) SendTemplate(_ context.Context, to, process string, params map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to: to, process: process, params: params})
	return nil
}

func (m *fakeMailer) last(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("ни одного письма не отправлено")
	}
	return m.sent[len(m.sent)-1]
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// seedUser создаёт активного пользователя с паролем testPassword.
func seedUser(t *testing.T, store *repotest.Store, username, role string) *model.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	u := &model.User{
		Email:        username + "@example.com",
		Username:     username,
		PasswordHash: string(hash),
		GlobalRole:   role,
		IsActive:     true,
	}
	if err := store.Repos().Users.Create(context.Background(), u); err != nil {
		t.Fatalf("создание пользователя %s: %v", username, err)
	}
	return u
}

// seedProject создаёт проект и добавляет участников.
func seedProject(t *testing.T, store *repotest.Store, name string, members ...*model.User) *model.Project {
	t.Helper()
	ctx := context.Background()
	p := &model.Project{Name: name}
	if err := store.Repos().Projects.Create(ctx, p); err != nil {
		t.Fatalf("создание проекта: %v", err)
	}
	for _, u := range members {
		if err := store.Repos().Projects.AddMember(ctx, &model.ProjectMember{
			ProjectID: p.ID, UserID: u.ID, Role: DefaultMemberRole,
		}); err != nil {
			t.Fatalf("добавление участника: %v", err)
		}
	}
	return p
}

func actorOf(u *model.User) Actor {
	return Actor{UserID: u.ID, Role: u.GlobalRole}
}

func testAuthConfig() AuthConfig {
	return AuthConfig{
		CodeTTL:          10 * time.Minute,
		ResendCooldown:   60 * time.Second,
		MaxCodeAttempts:  3,
		LoginMaxAttempts: 3,
		LoginWindow:      15 * time.Minute,
		ResetTokenTTL:    time.Hour,
		AppURL:           "http://app.local/",
		Policy:           password.DefaultPolicy(),
		BcryptCost:       bcrypt.MinCost,
	}
}

func newTestIssuer() *token.Issuer {
	return token.NewIssuer(strings.Repeat("k", 32), "project-assistant", time.Hour, 10*time.Minute)
}

func newTestNotifications(store *repotest.Store) *NotificationService {
	return NewNotificationService(store, PollingConfig{
		PollingInterval:     10 * time.Second,
		FullRefreshInterval: time.Hour,
	}, testLogger())
}

func newTestAuth(t *testing.T, store *repotest.Store, mail *fakeMailer) *AuthService {
	t.Helper()
	svc, err := NewAuthService(store, newTestIssuer(), mail, newTestNotifications(store), testAuthConfig(), testLogger())
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}
	return svc
}

// knowledgeFixture - проект с участником, посторонним и администраторами.
type knowledgeFixture struct {
	store    *repotest.Store
	svc      *KnowledgeService
	project  *model.Project
	member   Actor
	guest    Actor
	outsider Actor
	padmin   Actor
	sysadmin Actor
}

func newKnowledgeFixture(t *testing.T, maxDepth int) *knowledgeFixture {
	t.Helper()
	store := repotest.New()
	member := seedUser(t, store, "member", rbac.RoleUser)
	guest := seedUser(t, store, "guest", rbac.RoleGuest)
	outsider := seedUser(t, store, "outsider", rbac.RoleUser)
	padmin := seedUser(t, store, "padmin", rbac.RoleProjectAdmin)
	sysadmin := seedUser(t, store, "root", rbac.RoleSystemAdmin)
	project := seedProject(t, store, "Проект", member, guest, padmin)

	svc := NewKnowledgeService(store, newTestNotifications(store), diff.NewRuleBasedProvider(),
		KnowledgeConfig{MaxDepth: maxDepth, MaxUploadBytes: 1 << 10}, testLogger())

	return &knowledgeFixture{
		store:    store,
		svc:      svc,
		project:  project,
		member:   actorOf(member),
		guest:    actorOf(guest),
		outsider: actorOf(outsider),
		padmin:   actorOf(padmin),
		sysadmin: actorOf(sysadmin),
	}
}

func ptr[T any](v T) *T {
	return &v
}
