package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/project-assistant/internal/domain/model"
	"github.com/bigkaa/project-assistant/internal/domain/password"
	"github.com/bigkaa/project-assistant/internal/domain/rbac"
	"github.com/bigkaa/project-assistant/internal/mailer"
	"github.com/bigkaa/project-assistant/internal/repository/repotest"
)

func TestLogin(t *testing.T) {
	store := repotest.New()
	svc := newTestAuth(t, store, &fakeMailer{})
	u := seedUser(t, store, "anna", rbac.RoleUser)
	ctx := context.Background()

	for _, login := range []string{"anna", "ANNA@example.com"} {
		res, err := svc.Login(ctx, login, testPassword)
		if err != nil {
			t.Fatalf("Login(%s): %v", login, err)
		}
		if res.Token == "" || res.RequiresTwoFactor || res.User.ID != u.ID {
			t.Errorf("Login(%s) = %+v", login, res)
		}
	}

	got, _ := store.Repos().Users.GetByID(ctx, u.ID)
	if got.LastLoginAt == nil {
		t.Error("last_login_at не обновлён")
	}
}

func TestLogin_Failures(t *testing.T) {
	store := repotest.New()
	svc := newTestAuth(t, store, &fakeMailer{})
	u := seedUser(t, store, "anna", rbac.RoleUser)
	ctx := context.Background()

	tests := []struct {
		name  string
		login string
		pw    string
		want  error
	}{
		{"пустые поля", "", "", ErrValidation},
		{"неизвестный пользователь", "nobody", testPassword, ErrUnauthorized},
		{"неверный пароль", "other", "wrong", ErrUnauthorized},
	}
	seedUser(t, store, "other", rbac.RoleUser)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Login(ctx, tt.login, tt.pw); !errors.Is(err, tt.want) {
				t.Errorf("ожидается %v, получено %v", tt.want, err)
			}
		})
	}

	inactive := *u
	inactive.IsActive = false
	if err := store.Repos().Users.Update(ctx, &inactive); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := svc.Login(ctx, "anna", testPassword); !errors.Is(err, ErrForbidden) {
		t.Errorf("отключённый пользователь: ожидается ErrForbidden, получено %v", err)
	}
}

func TestLogin_Lockout(t *testing.T) {
	store := repotest.New()
	svc := newTestAuth(t, store, &fakeMailer{})
	seedUser(t, store, "anna", rbac.RoleUser)
	ctx := context.Background()

	for i := 0; i < testAuthConfig().LoginMaxAttempts; i++ {
		if _, err := svc.Login(ctx, "anna", "wrong"); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("попытка %d: %v", i+1, err)
		}
	}

	// Верный пароль не проверяется, пока действует блокировка.
	_, err := svc.Login(ctx, "Anna", testPassword)
	var retry *RetryError
	if !errors.As(err, &retry) {
		t.Fatalf("ожидается RetryError, получено %v", err)
	}
	if !errors.Is(err, ErrTooManyAttempts) {
		t.Error("RetryError должен оборачивать ErrTooManyAttempts")
	}
	if retry.RetryAfterSeconds < 1 {
		t.Errorf("RetryAfterSeconds = %d", retry.RetryAfterSeconds)
	}

	// Другой логин не заблокирован.
	if _, err := svc.Login(ctx, "someone", "x"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("другой логин: %v", err)
	}
}

func enableTwoFactor(t *testing.T, store *repotest.Store, u *model.User) {
	t.Helper()
	c := *u
	c.TwoFactorEnabled = true
	if err := store.Repos().Users.Update(context.Background(), &c); err != nil {
		t.Fatalf("Update: %v", err)
	}
}

func TestTwoFactorFlow(t *testing.T) {
	store := repotest.New()
	mail := &fakeMailer{}
	svc := newTestAuth(t, store, mail)
	u := seedUser(t, store, "anna", rbac.RoleUser)
	enableTwoFactor(t, store, u)
	ctx := context.Background()

	res, err := svc.Login(ctx, "anna", testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !res.RequiresTwoFactor {
		t.Fatal("ожидается запрос второго фактора")
	}
	claims, err := newTestIssuer().Parse(res.Token)
	if err != nil || !claims.Pending() {
		t.Fatalf("токен после пароля должен быть pending: %v", err)
	}

	sent, err := svc.SendTwoFactorCode(ctx, u.ID)
	if err != nil {
		t.Fatalf("SendTwoFactorCode: %v", err)
	}
	if sent.RetryAfterSeconds != 60 {
		t.Errorf("RetryAfterSeconds = %d", sent.RetryAfterSeconds)
	}
	msg := mail.last(t)
	if msg.process != mailer.TemplateTwoFactorCode || msg.to != u.Email {
		t.Errorf("письмо = %+v", msg)
	}
	code := msg.params["CODE"]
	if len(code) != 6 {
		t.Fatalf("код %q не из 6 цифр", code)
	}

	// Повторная отправка в пределах cooldown.
	var retry *RetryError
	if _, err := svc.SendTwoFactorCode(ctx, u.ID); !errors.As(err, &retry) {
		t.Errorf("повторная отправка: ожидается RetryError, получено %v", err)
	}

	verified, err := svc.VerifyTwoFactorCode(ctx, u.ID, code)
	if err != nil {
		t.Fatalf("VerifyTwoFactorCode: %v", err)
	}
	claims, err = newTestIssuer().Parse(verified.Token)
	if err != nil || claims.Pending() {
		t.Errorf("после подтверждения ожидается полный токен: %v", err)
	}

	// Код одноразовый.
	if _, err := svc.VerifyTwoFactorCode(ctx, u.ID, code); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("повторное использование кода: ожидается ErrInvalidCode, получено %v", err)
	}
}

func TestVerifyTwoFactor_Format(t *testing.T) {
	store := repotest.New()
	svc := newTestAuth(t, store, &fakeMailer{})
	u := seedUser(t, store, "anna", rbac.RoleUser)

	for _, code := range []string{"", "12345", "1234567", "12a456", " 123456"} {
		if _, err := svc.VerifyTwoFactorCode(context.Background(), u.ID, code); !errors.Is(err, ErrValidation) {
			t.Errorf("код %q: ожидается ErrValidation, получено %v", code, err)
		}
	}
}

func TestVerifyTwoFactor_BurnsAfterMaxAttempts(t *testing.T) {
	store := repotest.New()
	mail := &fakeMailer{}
	svc := newTestAuth(t, store, mail)
	u := seedUser(t, store, "anna", rbac.RoleUser)
	ctx := context.Background()

	if _, err := svc.SendTwoFactorCode(ctx, u.ID); err != nil {
		t.Fatalf("SendTwoFactorCode: %v", err)
	}
	code := mail.last(t).params["CODE"]
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	limit := testAuthConfig().MaxCodeAttempts
	for i := 1; i < limit; i++ {
		if _, err := svc.VerifyTwoFactorCode(ctx, u.ID, wrong); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("попытка %d: ожидается ErrInvalidCode, получено %v", i, err)
		}
	}
	if _, err := svc.VerifyTwoFactorCode(ctx, u.ID, wrong); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("последняя попытка: ожидается ErrTooManyAttempts, получено %v", err)
	}
	// Сгоревший код не принимается даже верным.
	if _, err := svc.VerifyTwoFactorCode(ctx, u.ID, code); err == nil {
		t.Error("сгоревший код принят")
	}
}

func TestVerifyTwoFactor_Expired(t *testing.T) {
	store := repotest.New()
	mail := &fakeMailer{}
	svc := newTestAuth(t, store, mail)
	u := seedUser(t, store, "anna", rbac.RoleUser)
	ctx := context.Background()

	if _, err := svc.SendTwoFactorCode(ctx, u.ID); err != nil {
		t.Fatalf("SendTwoFactorCode: %v", err)
	}
	code := mail.last(t).params["CODE"]
	svc.now = func() time.Time { return time.Now().Add(11 * time.Minute) }

	if _, err := svc.VerifyTwoFactorCode(ctx, u.ID, code); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("просроченный код: ожидается ErrInvalidCode, получено %v", err)
	}
}

func resetLink(t *testing.T, mail *fakeMailer) string {
	t.Helper()
	msg := mail.last(t)
	if msg.process != mailer.TemplatePasswordReset {
		t.Fatalf("ожидается письмо сброса, получено %s", msg.process)
	}
	link := msg.params["RESET_LINK"]
	const prefix = "http://app.local/reset-password/"
	if !strings.HasPrefix(link, prefix) {
		t.Fatalf("ссылка = %q", link)
	}
	return strings.TrimPrefix(link, prefix)
}

func TestPasswordReset(t *testing.T) {
	store := repotest.New()
	mail := &fakeMailer{}
	svc := newTestAuth(t, store, mail)
	u := seedUser(t, store, "anna", rbac.RoleUser)
	ctx := context.Background()

	if err := svc.ForgotPassword(ctx, "nobody@example.com"); err != nil {
		t.Errorf("неизвестный email не должен давать ошибку: %v", err)
	}
	if mail.count() != 0 {
		t.Error("письмо отправлено на неизвестный email")
	}

	if err := svc.ForgotPassword(ctx, u.Email); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	raw := resetLink(t, mail)
	if len(raw) != 64 {
		t.Errorf("длина токена = %d, ожидается 64 hex-символа", len(raw))
	}
	if !svc.ValidateResetToken(ctx, raw) {
		t.Fatal("свежий токен недействителен")
	}

	err := svc.ResetPassword(ctx, raw, "short")
	var perr *password.PolicyError
	if !errors.Is(err, ErrValidation) || !errors.As(err, &perr) {
		t.Errorf("слабый пароль: ожидается ErrValidation c PolicyError, получено %v", err)
	}

	const newPassword = "NewSecret#456"
	if err := svc.ResetPassword(ctx, raw, newPassword); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if svc.ValidateResetToken(ctx, raw) {
		t.Error("использованный токен остаётся действительным")
	}
	if err := svc.ResetPassword(ctx, raw, newPassword); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("повторное использование: ожидается ErrInvalidToken, получено %v", err)
	}
	if _, err := svc.Login(ctx, "anna", newPassword); err != nil {
		t.Errorf("вход с новым паролем: %v", err)
	}
	if msg := mail.last(t); msg.process != mailer.TemplatePasswordChanged {
		t.Errorf("последнее письмо = %s, ожидается уведомление о смене пароля", msg.process)
	}
	notes, _ := store.Repos().Notifications.ListForUser(ctx, u.ID, model.NotificationFilter{})
	if len(notes) != 1 {
		t.Errorf("уведомлений о смене пароля = %d", len(notes))
	}
}

func TestPasswordReset_ExpiredAndUnknown(t *testing.T) {
	store := repotest.New()
	mail := &fakeMailer{}
	svc := newTestAuth(t, store, mail)
	u := seedUser(t, store, "anna", rbac.RoleUser)
	ctx := context.Background()

	if err := svc.ResetPassword(ctx, strings.Repeat("a", 64), "NewSecret#456"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("неизвестный токен: ожидается ErrInvalidToken, получено %v", err)
	}

	if err := svc.ForgotPassword(ctx, u.Email); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	raw := resetLink(t, mail)
	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if svc.ValidateResetToken(ctx, raw) {
		t.Error("просроченный токен действителен")
	}
	if err := svc.ResetPassword(ctx, raw, "NewSecret#456"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("просроченный токен: ожидается ErrInvalidToken, получено %v", err)
	}
}

func TestCurrentRole(t *testing.T) {
	store := repotest.New()
	svc := newTestAuth(t, store, &fakeMailer{})
	u := seedUser(t, store, "anna", rbac.RoleProjectAdmin)
	ctx := context.Background()

	role, err := svc.CurrentRole(ctx, u.ID)
	if err != nil || role != rbac.RoleProjectAdmin {
		t.Errorf("CurrentRole = %q, %v", role, err)
	}

	c := *u
	c.IsActive = false
	_ = store.Repos().Users.Update(ctx, &c)
	if _, err := svc.CurrentRole(ctx, u.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("отключённый: ожидается ErrForbidden, получено %v", err)
	}
	if _, err := svc.CurrentRole(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, ErrNotFound) {
		t.Errorf("неизвестный: ожидается ErrNotFound, получено %v", err)
	}
}
