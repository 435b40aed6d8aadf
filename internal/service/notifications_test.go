package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bigkaa/project-assistant/internal/domain/model"
	"github.com/bigkaa/project-assistant/internal/domain/rbac"
	"github.com/bigkaa/project-assistant/internal/mailer"
	"github.com/bigkaa/project-assistant/internal/repository/repotest"
)

type notificationFixture struct {
	store *repotest.Store
	svc   *NotificationService
	alice Actor
	bob   Actor
	admin Actor
}

func newNotificationFixture(t *testing.T) *notificationFixture {
	t.Helper()
	store := repotest.New()
	return &notificationFixture{
		store: store,
		svc:   newTestNotifications(store),
		alice: actorOf(seedUser(t, store, "alice", rbac.RoleUser)),
		bob:   actorOf(seedUser(t, store, "bob", rbac.RoleProjectAdmin)),
		admin: actorOf(seedUser(t, store, "admin", rbac.RoleSystemAdmin)),
	}
}

func (fx *notificationFixture) create(t *testing.T, actor Actor, in NotificationInput) *model.Notification {
	t.Helper()
	n, _, err := fx.svc.Create(context.Background(), actor, in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return n
}

func TestCreate_DefaultsAndValidation(t *testing.T) {
	fx := newNotificationFixture(t)
	ctx := context.Background()

	n := fx.create(t, fx.alice, NotificationInput{Title: "  Привет  "})
	if n.UserID != fx.alice.UserID || n.Title != "Привет" {
		t.Errorf("уведомление = %+v", n)
	}
	if n.Type != model.NotificationTypeInfo || n.Priority != model.PriorityMedium {
		t.Errorf("значения по умолчанию: type=%s priority=%s", n.Type, n.Priority)
	}
	if n.IsRead || n.IsDeleted {
		t.Error("новое уведомление должно быть непрочитанным и неудалённым")
	}

	tests := []struct {
		name string
		in   NotificationInput
	}{
		{"пустой title", NotificationInput{Title: " "}},
		{"неизвестный type", NotificationInput{Title: "t", Type: "spam"}},
		{"неизвестный priority", NotificationInput{Title: "t", Priority: "critical"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := fx.svc.Create(ctx, fx.alice, tt.in); !errors.Is(err, ErrValidation) {
				t.Errorf("ожидается ErrValidation, получено %v", err)
			}
		})
	}
}

func TestCreate_ForOtherUsers(t *testing.T) {
	fx := newNotificationFixture(t)
	ctx := context.Background()

	_, _, err := fx.svc.Create(ctx, fx.bob, NotificationInput{UserID: fx.alice.UserID, Title: "t"})
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("project_admin создаёт чужое: ожидается ErrForbidden, получено %v", err)
	}

	n := fx.create(t, fx.admin, NotificationInput{UserID: fx.alice.UserID, Title: "t"})
	if n.UserID != fx.alice.UserID {
		t.Errorf("получатель = %s", n.UserID)
	}
}

func TestCreate_IdempotentRequestID(t *testing.T) {
	fx := newNotificationFixture(t)
	ctx := context.Background()
	in := NotificationInput{Title: "t", RequestID: ptr("req-1")}

	first, created, err := fx.svc.Create(ctx, fx.alice, in)
	if err != nil || !created {
		t.Fatalf("первое создание: created=%v err=%v", created, err)
	}
	second, created, err := fx.svc.Create(ctx, fx.alice, in)
	if err != nil {
		t.Fatalf("повтор: %v", err)
	}
	if created || second.ID != first.ID {
		t.Errorf("повтор создал новую запись: created=%v id=%s/%s", created, first.ID, second.ID)
	}

	count, err := fx.svc.UnreadCount(ctx, fx.alice, "", nil)
	if err != nil {
		t.Fatalf("UnreadCount: %v", err)
	}
	if count != 1 {
		t.Errorf("непрочитанных = %d, ожидается 1", count)
	}
}

func TestReadAndDeleteAreIndependent(t *testing.T) {
	fx := newNotificationFixture(t)
	ctx := context.Background()
	n := fx.create(t, fx.alice, NotificationInput{Title: "t"})

	if err := fx.svc.Delete(ctx, fx.alice, n.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, _ := fx.store.Repos().Notifications.GetByID(ctx, n.ID)
	if !got.IsDeleted || got.IsRead {
		t.Errorf("после удаления: read=%v deleted=%v", got.IsRead, got.IsDeleted)
	}

	read, err := fx.svc.MarkAsRead(ctx, fx.alice, n.ID)
	if err != nil {
		t.Fatalf("MarkAsRead: %v", err)
	}
	if !read.IsRead || !read.IsDeleted || read.ReadAt == nil {
		t.Errorf("после прочтения: read=%v deleted=%v", read.IsRead, read.IsDeleted)
	}
}

func TestOwnership(t *testing.T) {
	fx := newNotificationFixture(t)
	ctx := context.Background()
	n := fx.create(t, fx.alice, NotificationInput{Title: "t"})

	if _, err := fx.svc.MarkAsRead(ctx, fx.bob, n.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("чужое уведомление: ожидается ErrForbidden, получено %v", err)
	}
	if err := fx.svc.Delete(ctx, fx.bob, n.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("удаление чужого: ожидается ErrForbidden, получено %v", err)
	}
	if _, err := fx.svc.List(ctx, fx.bob, fx.alice.UserID, model.NotificationFilter{}); !errors.Is(err, ErrForbidden) {
		t.Errorf("список чужих: ожидается ErrForbidden, получено %v", err)
	}
	if _, err := fx.svc.MarkAsRead(ctx, fx.admin, n.ID); err != nil {
		t.Errorf("system_admin: %v", err)
	}
	if _, err := fx.svc.MarkAsRead(ctx, fx.alice, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, ErrNotFound) {
		t.Errorf("несуществующее: ожидается ErrNotFound, получено %v", err)
	}
}

func TestList_SinceAndOrder(t *testing.T) {
	fx := newNotificationFixture(t)
	ctx := context.Background()

	first := fx.create(t, fx.alice, NotificationInput{Title: "1"})
	fx.create(t, fx.alice, NotificationInput{Title: "2"})
	third := fx.create(t, fx.alice, NotificationInput{Title: "3"})

	all, err := fx.svc.List(ctx, fx.alice, "", model.NotificationFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 || all[0].ID != third.ID {
		t.Fatalf("порядок: ожидается новое первым, получено %d записей", len(all))
	}

	since := first.CreatedAt
	delta, err := fx.svc.List(ctx, fx.alice, "", model.NotificationFilter{Since: &since})
	if err != nil {
		t.Fatalf("List since: %v", err)
	}
	if len(delta) != 2 {
		t.Errorf("дельта = %d записей, ожидается 2", len(delta))
	}
}

func TestMarkAllAndClearAll(t *testing.T) {
	fx := newNotificationFixture(t)
	ctx := context.Background()
	project := "p-1"
	fx.create(t, fx.alice, NotificationInput{Title: "a"})
	fx.create(t, fx.alice, NotificationInput{Title: "b", ProjectID: &project})
	fx.create(t, fx.bob, NotificationInput{Title: "c"})

	n, err := fx.svc.MarkAllAsRead(ctx, fx.alice, "", &project)
	if err != nil || n != 1 {
		t.Fatalf("MarkAllAsRead(project) = %d, %v", n, err)
	}
	unread, _ := fx.svc.UnreadCount(ctx, fx.alice, "", nil)
	if unread != 1 {
		t.Errorf("непрочитанных = %d, ожидается 1", unread)
	}

	n, err = fx.svc.ClearAll(ctx, fx.alice, "", nil)
	if err != nil || n != 2 {
		t.Fatalf("ClearAll = %d, %v", n, err)
	}
	visible, _ := fx.svc.List(ctx, fx.alice, "", model.NotificationFilter{})
	if len(visible) != 0 {
		t.Errorf("после очистки видно %d", len(visible))
	}
	bobs, _ := fx.svc.UnreadCount(ctx, fx.bob, "", nil)
	if bobs != 1 {
		t.Errorf("уведомления другого пользователя затронуты: %d", bobs)
	}
}

func TestBulk(t *testing.T) {
	fx := newNotificationFixture(t)
	ctx := context.Background()
	a := fx.create(t, fx.alice, NotificationInput{Title: "a"})
	b := fx.create(t, fx.alice, NotificationInput{Title: "b"})
	foreign := fx.create(t, fx.bob, NotificationInput{Title: "c"})

	n, err := fx.svc.Bulk(ctx, fx.alice, "", BulkMarkRead, []string{a.ID, b.ID, foreign.ID})
	if err != nil {
		t.Fatalf("Bulk: %v", err)
	}
	if n != 2 {
		t.Errorf("затронуто %d, ожидается 2 (чужие пропускаются)", n)
	}

	n, err = fx.svc.Bulk(ctx, fx.alice, "", BulkDelete, []string{a.ID})
	if err != nil || n != 1 {
		t.Errorf("Bulk delete = %d, %v", n, err)
	}

	tests := []struct {
		name   string
		action string
		ids    []string
	}{
		{"пустой список", BulkDelete, nil},
		{"неизвестное действие", "archive", []string{a.ID}},
		{"слишком много id", BulkDelete, make([]string, maxBulkIDs+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := fx.svc.Bulk(ctx, fx.alice, "", tt.action, tt.ids); !errors.Is(err, ErrValidation) {
				t.Errorf("ожидается ErrValidation, получено %v", err)
			}
		})
	}
}

func TestRetention_SoftDeletesOldReadOnly(t *testing.T) {
	fx := newNotificationFixture(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	oldRead := fx.create(t, fx.alice, NotificationInput{Title: "old read"})
	oldUnread := fx.create(t, fx.alice, NotificationInput{Title: "old unread"})
	freshRead := fx.create(t, fx.alice, NotificationInput{Title: "fresh read"})
	for _, n := range []*model.Notification{oldRead, freshRead} {
		if _, err := fx.svc.MarkAsRead(ctx, fx.alice, n.ID); err != nil {
			t.Fatalf("MarkAsRead: %v", err)
		}
	}
	fx.store.SetNotificationCreatedAt(oldRead.ID, now.AddDate(0, 0, -91))
	fx.store.SetNotificationCreatedAt(oldUnread.ID, now.AddDate(0, 0, -91))
	fx.store.SetNotificationCreatedAt(freshRead.ID, now.AddDate(0, 0, -10))

	svc := NewRetentionService(fx.store.Repos().Notifications, 90, time.Hour, testLogger())
	svc.now = func() time.Time { return now }

	marked, err := svc.RunNow(ctx)
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if marked != 1 {
		t.Errorf("помечено %d, ожидается 1", marked)
	}
	got, _ := fx.store.Repos().Notifications.GetByID(ctx, oldRead.ID)
	if !got.IsDeleted {
		t.Error("старое прочитанное уведомление не удалено")
	}
	got, _ = fx.store.Repos().Notifications.GetByID(ctx, oldUnread.ID)
	if got.IsDeleted {
		t.Error("непрочитанное уведомление удалено")
	}
}

func TestRetention_StartStop(t *testing.T) {
	store := repotest.New()
	svc := NewRetentionService(store.Repos().Notifications, 90, 10*time.Millisecond, testLogger())
	svc.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	svc.Stop()
}

func TestCreate_UrgentSendsDigest(t *testing.T) {
	fx := newNotificationFixture(t)
	mail := &fakeMailer{}
	fx.svc.WithMailer(mail)

	fx.create(t, fx.alice, NotificationInput{Title: "обычное"})
	if len(mail.sent) != 0 {
		t.Fatalf("письмо при обычном приоритете: %+v", mail.sent)
	}

	fx.create(t, fx.alice, NotificationInput{Title: "срочно", Priority: model.PriorityUrgent})
	msg := mail.last(t)
	if msg.process != mailer.TemplateNotificationDigest || msg.to != "alice@example.com" {
		t.Errorf("письмо = %+v", msg)
	}
	if msg.params["UNREAD_COUNT"] != "2" || msg.params["USER_NAME"] != "alice" {
		t.Errorf("параметры = %v", msg.params)
	}

	// Ошибка почты не ломает создание уведомления
	mail.err = errors.New("smtp down")
	if _, _, err := fx.svc.Create(context.Background(), fx.alice, NotificationInput{Title: "ещё", Priority: model.PriorityUrgent}); err != nil {
		t.Errorf("Create при сбое почты: %v", err)
	}
}
