package apiclient

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/bigkaa/project-assistant/internal/domain/session"
)

// DefaultResendCooldown - локальный интервал между отправками кода 2FA.
const DefaultResendCooldown = 60 * time.Second

var codeRe = regexp.MustCompile(`^\d{6}$`)

// ErrInvalidCodeFormat - код не из 6 цифр; запрос на сервер не отправляется.
var ErrInvalidCodeFormat = errors.New("код должен состоять ровно из 6 цифр")

// CooldownError - повторная отправка кода раньше окончания интервала.
type CooldownError struct {
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("код уже отправлен, повторите через %d с", int(math.Ceil(e.RetryAfter.Seconds())))
}

// AuthFlow ведёт вход пользователя через автомат session.StateMachine.
// Токен хранится только в Session клиента; ответ 401 сбрасывает автомат.
type AuthFlow struct {
	client   *Client
	sm       *session.StateMachine
	cooldown time.Duration
	now      func() time.Time

	mu       sync.Mutex
	lastSent time.Time
}

// NewAuthFlow создаёт сценарий входа. cooldown 0 - DefaultResendCooldown.
func NewAuthFlow(client *Client, cooldown time.Duration) *AuthFlow {
	if cooldown <= 0 {
		cooldown = DefaultResendCooldown
	}
	f := &AuthFlow{
		client:   client,
		sm:       session.New(),
		cooldown: cooldown,
		now:      time.Now,
	}
	client.Session().OnUnauthorized(f.sm.Reset)
	return f
}

// State возвращает текущее состояние сессии.
func (f *AuthFlow) State() session.State {
	return f.sm.Current()
}

// StateMachine возвращает автомат для подписки на переходы.
func (f *AuthFlow) StateMachine() *session.StateMachine {
	return f.sm
}

// Login проверяет пароль. При включённой 2FA сессия переходит в pending_two_factor.
func (f *AuthFlow) Login(ctx context.Context, login, password string) (*LoginResponse, error) {
	f.sm.Reset()
	if err := f.sm.TransitionTo(session.StateAuthenticating); err != nil {
		return nil, err
	}

	resp, err := f.client.Login(ctx, login, password)
	if err != nil {
		f.sm.Reset()
		return nil, err
	}
	f.client.Session().SetToken(resp.Token)

	next := session.StateAuthenticated
	if resp.RequiresTwoFactor {
		next = session.StatePendingTwoFactor
	}
	if err := f.sm.TransitionTo(next); err != nil {
		return nil, err
	}
	return resp, nil
}

// SendTwoFactor запрашивает код. Интервал между отправками проверяется и локально,
// и сервером (429 с retryAfterSeconds).
func (f *AuthFlow) SendTwoFactor(ctx context.Context) (*SendCodeResponse, error) {
	if !f.sm.CanAccess(session.AreaTwoFactor) {
		return nil, fmt.Errorf("отправка кода недоступна в состоянии %s", f.sm.Current())
	}

	f.mu.Lock()
	now := f.now()
	if !f.lastSent.IsZero() {
		if wait := f.cooldown - now.Sub(f.lastSent); wait > 0 {
			f.mu.Unlock()
			return nil, &CooldownError{RetryAfter: wait}
		}
	}
	f.mu.Unlock()

	resp, err := f.client.SendTwoFactor(ctx)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests && apiErr.RetryAfterSeconds > 0 {
			return nil, &CooldownError{RetryAfter: time.Duration(apiErr.RetryAfterSeconds) * time.Second}
		}
		return nil, err
	}

	f.mu.Lock()
	f.lastSent = now
	f.mu.Unlock()
	return resp, nil
}

// VerifyTwoFactor подтверждает код и переводит сессию в authenticated.
// Код не из 6 цифр отклоняется без обращения к серверу.
func (f *AuthFlow) VerifyTwoFactor(ctx context.Context, code string) (*LoginResponse, error) {
	if !codeRe.MatchString(code) {
		return nil, ErrInvalidCodeFormat
	}
	if f.sm.Current() != session.StatePendingTwoFactor {
		return nil, fmt.Errorf("подтверждение кода недоступно в состоянии %s", f.sm.Current())
	}

	resp, err := f.client.VerifyTwoFactor(ctx, code)
	if err != nil {
		return nil, err
	}
	f.client.Session().SetToken(resp.Token)
	if err := f.sm.TransitionTo(session.StateAuthenticated); err != nil {
		return nil, err
	}
	return resp, nil
}

// Logout удаляет токен и сбрасывает сессию.
func (f *AuthFlow) Logout() {
	f.client.Session().ClearToken()
	f.sm.Reset()

	f.mu.Lock()
	f.lastSent = time.Time{}
	f.mu.Unlock()
}
