package service

import (
	"context"
	"errors"
	"testing"

	"github.com/bigkaa/project-assistant/internal/domain/rbac"
	"github.com/bigkaa/project-assistant/internal/mailer"
	"github.com/bigkaa/project-assistant/internal/repository/repotest"
)

type adminFixture struct {
	store *repotest.Store
	mail  *fakeMailer
	svc   *AdminService
	root  Actor
	user  Actor
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	store := repotest.New()
	mail := &fakeMailer{}
	return &adminFixture{
		store: store,
		mail:  mail,
		svc:   NewAdminService(store, newTestAuth(t, store, mail), testLogger()),
		root:  actorOf(seedUser(t, store, "root", rbac.RoleSystemAdmin)),
		user:  actorOf(seedUser(t, store, "anna", rbac.RoleUser)),
	}
}

func TestAdmin_RequiresSystemAdmin(t *testing.T) {
	fx := newAdminFixture(t)
	ctx := context.Background()

	checks := map[string]error{
		"ListUsers": func() error { _, _, err := fx.svc.ListUsers(ctx, fx.user, 0, 0); return err }(),
		"CreateUser": func() error {
			_, err := fx.svc.CreateUser(ctx, fx.user, UserInput{Email: "x@example.com", Username: "x", Password: testPassword})
			return err
		}(),
		"UpdateUser":    func() error { _, err := fx.svc.UpdateUser(ctx, fx.user, fx.user.UserID, UserPatch{}); return err }(),
		"SetPassword":   fx.svc.SetPassword(ctx, fx.user, fx.user.UserID, "NewSecret#456"),
		"CreateProject": func() error { _, err := fx.svc.CreateProject(ctx, fx.user, "p"); return err }(),
	}
	for name, err := range checks {
		if !errors.Is(err, ErrForbidden) {
			t.Errorf("%s: ожидается ErrForbidden, получено %v", name, err)
		}
	}
}

func TestAdmin_CreateAndListUsers(t *testing.T) {
	fx := newAdminFixture(t)
	ctx := context.Background()

	u, err := fx.svc.CreateUser(ctx, fx.root, UserInput{
		Email:    "new@example.com",
		Username: "new",
		Password: testPassword,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.GlobalRole != rbac.RoleUser || !u.IsActive || u.PasswordHash == testPassword {
		t.Errorf("созданный пользователь: %+v", u)
	}

	tests := []struct {
		name string
		in   UserInput
		want error
	}{
		{"некорректный email", UserInput{Email: "nope", Username: "a", Password: testPassword}, ErrValidation},
		{"слабый пароль", UserInput{Email: "a@example.com", Username: "a", Password: "weak"}, ErrValidation},
		{"неизвестная роль", UserInput{Email: "a@example.com", Username: "a", Password: testPassword, GlobalRole: "owner"}, ErrValidation},
		{"дубликат", UserInput{Email: "NEW@example.com", Username: "other", Password: testPassword}, ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := fx.svc.CreateUser(ctx, fx.root, tt.in); !errors.Is(err, tt.want) {
				t.Errorf("ожидается %v, получено %v", tt.want, err)
			}
		})
	}

	users, total, err := fx.svc.ListUsers(ctx, fx.root, 2, 0)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if total != 3 || len(users) != 2 {
		t.Errorf("ListUsers = %d из %d", len(users), total)
	}
}

func TestAdmin_UpdateUser(t *testing.T) {
	fx := newAdminFixture(t)
	ctx := context.Background()

	u, err := fx.svc.UpdateUser(ctx, fx.root, fx.user.UserID, UserPatch{
		GlobalRole: ptr(rbac.RoleProjectAdmin),
		IsActive:   ptr(false),
	})
	if err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if u.GlobalRole != rbac.RoleProjectAdmin || u.IsActive {
		t.Errorf("после изменения: %+v", u)
	}

	if _, err := fx.svc.UpdateUser(ctx, fx.root, fx.root.UserID, UserPatch{GlobalRole: ptr(rbac.RoleUser)}); !errors.Is(err, ErrForbidden) {
		t.Errorf("понижение себя: ожидается ErrForbidden, получено %v", err)
	}
	if _, err := fx.svc.UpdateUser(ctx, fx.root, fx.root.UserID, UserPatch{IsActive: ptr(false)}); !errors.Is(err, ErrForbidden) {
		t.Errorf("деактивация себя: ожидается ErrForbidden, получено %v", err)
	}
	if _, err := fx.svc.UpdateUser(ctx, fx.root, fx.user.UserID, UserPatch{GlobalRole: ptr("owner")}); !errors.Is(err, ErrValidation) {
		t.Errorf("неизвестная роль: ожидается ErrValidation, получено %v", err)
	}
	if _, err := fx.svc.UpdateUser(ctx, fx.root, "00000000-0000-0000-0000-000000000000", UserPatch{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("неизвестный пользователь: ожидается ErrNotFound, получено %v", err)
	}
}

func TestAdmin_SetPassword(t *testing.T) {
	fx := newAdminFixture(t)
	ctx := context.Background()

	if err := fx.svc.SetPassword(ctx, fx.root, fx.user.UserID, "weak"); !errors.Is(err, ErrValidation) {
		t.Errorf("слабый пароль: ожидается ErrValidation, получено %v", err)
	}

	const newPassword = "Another#789"
	if err := fx.svc.SetPassword(ctx, fx.root, fx.user.UserID, newPassword); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	if _, err := fx.svc.auth.Login(ctx, "anna", newPassword); err != nil {
		t.Errorf("вход с новым паролем: %v", err)
	}
	if msg := fx.mail.last(t); msg.process != mailer.TemplatePasswordChanged {
		t.Errorf("письмо = %s", msg.process)
	}
	count, _ := fx.store.Repos().Notifications.UnreadCount(ctx, fx.user.UserID, nil)
	if count != 1 {
		t.Errorf("уведомлений пользователю = %d", count)
	}
}

func TestAdmin_ProjectsAndMembers(t *testing.T) {
	fx := newAdminFixture(t)
	ctx := context.Background()

	p, err := fx.svc.CreateProject(ctx, fx.root, "  Альфа ")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if p.Name != "Альфа" {
		t.Errorf("name = %q", p.Name)
	}
	if _, err := fx.svc.CreateProject(ctx, fx.root, "Альфа"); !errors.Is(err, ErrConflict) {
		t.Errorf("дубликат проекта: %v", err)
	}

	if _, err := fx.svc.AddMember(ctx, fx.root, p.ID, fx.user.UserID, ""); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	m, err := fx.svc.AddMember(ctx, fx.root, p.ID, fx.user.UserID, "editor")
	if err != nil || m.Role != "editor" {
		t.Errorf("повторное добавление меняет роль: %+v, %v", m, err)
	}
	if _, err := fx.svc.AddMember(ctx, fx.root, p.ID, "00000000-0000-0000-0000-000000000000", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("неизвестный пользователь: %v", err)
	}

	mine, err := fx.svc.ListProjects(ctx, fx.user)
	if err != nil || len(mine) != 1 {
		t.Errorf("проекты участника = %d, %v", len(mine), err)
	}

	if err := fx.svc.RemoveMember(ctx, fx.root, p.ID, fx.user.UserID); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	mine, _ = fx.svc.ListProjects(ctx, fx.user)
	if len(mine) != 0 {
		t.Errorf("после удаления из проекта видно %d", len(mine))
	}
	all, _ := fx.svc.ListProjects(ctx, fx.root)
	if len(all) != 1 {
		t.Errorf("system_admin видит %d проектов", len(all))
	}
}
