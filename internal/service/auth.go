// auth.go - аутентификация: вход по паролю, второй фактор по коду из письма,
// сброс пароля по одноразовой ссылке.
//
// Секреты (коды 2FA, токены сброса) хранятся только как sha256-хэши.
// Блокировка входа - token bucket x/time/rate на идентификатор,
// ограничение повторной отправки кода - expirable LRU.
package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/bigkaa/project-assistant/internal/domain/model"
	"github.com/bigkaa/project-assistant/internal/domain/password"
	"github.com/bigkaa/project-assistant/internal/mailer"
	"github.com/bigkaa/project-assistant/internal/repository"
	"github.com/bigkaa/project-assistant/internal/token"
)

var loginFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pa_login_failures_total",
	Help: "Количество неудачных попыток входа",
}, []string{"reason"})

// codeRe - формат одноразового кода: ровно 6 цифр.
var codeRe = regexp.MustCompile(`^\d{6}$`)

const (
	codeDigits       = 6
	resetTokenBytes  = 32
	lockoutCacheSize = 10000
	cooldownCacheSz  = 10000
)

// Mailer - отправка писем по шаблону процесса.
type Mailer interface {
	SendTemplate(ctx context.Context, to, processName string, params map[string]string) error
}

// AuthConfig - параметры аутентификации.
type AuthConfig struct {
	// CodeTTL - срок действия кода 2FA
	CodeTTL time.Duration
	// ResendCooldown - минимальный интервал между отправками кода
	ResendCooldown time.Duration
	// MaxCodeAttempts - неверных вводов до сгорания кода
	MaxCodeAttempts int
	// LoginMaxAttempts неудачных входов за LoginWindow до блокировки
	LoginMaxAttempts int
	LoginWindow      time.Duration
	// ResetTokenTTL - срок действия ссылки сброса пароля
	ResetTokenTTL time.Duration
	// AppURL - базовый URL SPA для ссылок в письмах
	AppURL string
	Policy password.Policy
	// BcryptCost - стоимость bcrypt; 0 - bcrypt.DefaultCost
	BcryptCost int
}

// LoginResult - результат успешного входа или подтверждения кода.
type LoginResult struct {
	Token             string
	ExpiresAt         time.Time
	User              *model.User
	RequiresTwoFactor bool
}

// SendCodeResult - результат отправки кода 2FA.
type SendCodeResult struct {
	ExpiresAt         time.Time
	RetryAfterSeconds int
}

// AuthService - сервис аутентификации.
type AuthService struct {
	store         repository.Store
	tokens        *token.Issuer
	mailer        Mailer
	notifications *NotificationService
	cfg           AuthConfig
	dummyHash     []byte

	lockout  *expirable.LRU[string, *rate.Limiter]
	cooldown *expirable.LRU[string, time.Time]

	now    func() time.Time
	logger *slog.Logger
}

// NewAuthService создаёт сервис аутентификации.
func NewAuthService(
	store repository.Store,
	tokens *token.Issuer,
	mail Mailer,
	notifications *NotificationService,
	cfg AuthConfig,
	logger *slog.Logger,
) (*AuthService, error) {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	// Хэш для сравнения при неизвестном логине: время ответа не выдаёт,
	// существует ли пользователь.
	dummy, err := bcrypt.GenerateFromPassword([]byte("project-assistant-dummy"), cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("подготовка bcrypt: %w", err)
	}

	return &AuthService{
		store:         store,
		tokens:        tokens,
		mailer:        mail,
		notifications: notifications,
		cfg:           cfg,
		dummyHash:     dummy,
		lockout:       expirable.NewLRU[string, *rate.Limiter](lockoutCacheSize, nil, cfg.LoginWindow),
		cooldown:      expirable.NewLRU[string, time.Time](cooldownCacheSz, nil, cfg.ResendCooldown),
		now:           time.Now,
		logger:        logger.With(slog.String("component", "auth")),
	}, nil
}

// PasswordPolicy возвращает действующую политику паролей.
func (s *AuthService) PasswordPolicy() password.Policy {
	return s.cfg.Policy
}

// --- Вход ---

// limiter возвращает token bucket неудачных попыток для идентификатора.
// Ёмкость - LoginMaxAttempts, пополнение - LoginMaxAttempts за LoginWindow.
func (s *AuthService) limiter(login string) *rate.Limiter {
	key := strings.ToLower(strings.TrimSpace(login))
	if l, ok := s.lockout.Get(key); ok {
		return l
	}
	every := s.cfg.LoginWindow / time.Duration(max(s.cfg.LoginMaxAttempts, 1))
	l := rate.NewLimiter(rate.Every(every), s.cfg.LoginMaxAttempts)
	s.lockout.Add(key, l)
	return l
}

// Login проверяет логин (email или username) и пароль.
// Для пользователя с включённой 2FA выдаётся токен в состоянии ожидания кода.
func (s *AuthService) Login(ctx context.Context, login, pw string) (*LoginResult, error) {
	login = strings.TrimSpace(login)
	if login == "" || pw == "" {
		return nil, validationf("email или username и пароль обязательны")
	}

	now := s.now()
	lim := s.limiter(login)
	if lim.TokensAt(now) < 1 {
		loginFailures.WithLabelValues("locked").Inc()
		return nil, &RetryError{
			RetryAfterSeconds: retryAfter(lim, now),
			Reason:            "вход временно заблокирован",
		}
	}

	user, err := s.store.Repos().Users.GetByLogin(ctx, login)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if user == nil {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(pw))
		lim.AllowN(now, 1)
		loginFailures.WithLabelValues("unknown_user").Inc()
		return nil, ErrUnauthorized
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(pw)) != nil {
		lim.AllowN(now, 1)
		loginFailures.WithLabelValues("bad_password").Inc()
		s.logger.Info("Неверный пароль", slog.String("user_id", user.ID))
		return nil, ErrUnauthorized
	}
	if !user.IsActive {
		loginFailures.WithLabelValues("inactive").Inc()
		return nil, fmt.Errorf("%w: учётная запись отключена", ErrForbidden)
	}

	s.lockout.Remove(strings.ToLower(login))

	if user.TwoFactorEnabled {
		tok, exp, err := s.tokens.Issue(user, true)
		if err != nil {
			return nil, err
		}
		s.logger.Info("Пароль принят, ожидается второй фактор", slog.String("user_id", user.ID))
		return &LoginResult{Token: tok, ExpiresAt: exp, User: user, RequiresTwoFactor: true}, nil
	}

	return s.complete(ctx, user)
}

// complete выдаёт полный токен и отмечает время входа.
func (s *AuthService) complete(ctx context.Context, user *model.User) (*LoginResult, error) {
	tok, exp, err := s.tokens.Issue(user, false)
	if err != nil {
		return nil, err
	}
	if err := s.store.Repos().Users.TouchLastLogin(ctx, user.ID); err != nil {
		s.logger.Warn("Не удалось обновить last_login_at",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}
	s.logger.Info("Вход выполнен", slog.String("user_id", user.ID))
	return &LoginResult{Token: tok, ExpiresAt: exp, User: user}, nil
}

// retryAfter вычисляет, через сколько секунд появится следующая попытка.
func retryAfter(lim *rate.Limiter, now time.Time) int {
	r := lim.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return max(int(math.Ceil(delay.Seconds())), 1)
}

// Me возвращает пользователя по id.
func (s *AuthService) Me(ctx context.Context, userID string) (*model.User, error) {
	u, err := s.store.Repos().Users.GetByID(ctx, userID)
	return u, translate(err)
}

// CurrentRole возвращает актуальную роль активного пользователя.
// Используется middleware, чтобы смена роли и отключение действовали сразу.
func (s *AuthService) CurrentRole(ctx context.Context, userID string) (string, error) {
	u, err := s.store.Repos().Users.GetByID(ctx, userID)
	if err != nil {
		return "", translate(err)
	}
	if !u.IsActive {
		return "", fmt.Errorf("%w: учётная запись отключена", ErrForbidden)
	}
	return u.GlobalRole, nil
}

// --- Второй фактор ---

// SendTwoFactorCode генерирует новый код, гасит прежние и отправляет код письмом.
// Повторная отправка раньше ResendCooldown - RetryError.
func (s *AuthService) SendTwoFactorCode(ctx context.Context, userID string) (*SendCodeResult, error) {
	now := s.now()
	if last, ok := s.cooldown.Get(userID); ok {
		if wait := s.cfg.ResendCooldown - now.Sub(last); wait > 0 {
			return nil, &RetryError{
				RetryAfterSeconds: int(math.Ceil(wait.Seconds())),
				Reason:            "код уже отправлен",
			}
		}
	}

	user, err := s.store.Repos().Users.GetByID(ctx, userID)
	if err != nil {
		return nil, translate(err)
	}

	code, err := randomDigits(codeDigits)
	if err != nil {
		return nil, err
	}
	expiresAt := now.Add(s.cfg.CodeTTL)

	err = s.store.InTx(ctx, func(r *repository.Repos) error {
		if err := r.AuthTokens.InvalidateTwoFactorCodes(ctx, userID); err != nil {
			return err
		}
		return r.AuthTokens.CreateTwoFactorCode(ctx, &model.TwoFactorCode{
			UserID:    userID,
			CodeHash:  sha256Hex(code),
			ExpiresAt: expiresAt,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("сохранение кода 2FA: %w", err)
	}

	err = s.mailer.SendTemplate(ctx, user.Email, mailer.TemplateTwoFactorCode, map[string]string{
		"USER_NAME":       user.Username,
		"CODE":            code,
		"EXPIRES_MINUTES": strconv.Itoa(int(s.cfg.CodeTTL.Minutes())),
	})
	if err != nil {
		return nil, fmt.Errorf("отправка кода 2FA: %w", err)
	}

	s.cooldown.Add(userID, now)
	s.logger.Info("Код 2FA отправлен", slog.String("user_id", userID))

	return &SendCodeResult{
		ExpiresAt:         expiresAt,
		RetryAfterSeconds: int(s.cfg.ResendCooldown.Seconds()),
	}, nil
}

// VerifyTwoFactorCode проверяет код и выдаёт полный токен.
// Код не из 6 цифр отклоняется без обращения к хранилищу.
// После MaxCodeAttempts неверных вводов код сгорает.
func (s *AuthService) VerifyTwoFactorCode(ctx context.Context, userID, code string) (*LoginResult, error) {
	if !codeRe.MatchString(code) {
		return nil, validationf("код должен состоять ровно из %d цифр", codeDigits)
	}

	repo := s.store.Repos().AuthTokens
	stored, err := repo.LatestTwoFactorCode(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: код не запрошен или уже использован", ErrInvalidCode)
	}
	if err != nil {
		return nil, err
	}
	if !s.now().Before(stored.ExpiresAt) {
		return nil, fmt.Errorf("%w: срок действия кода истёк", ErrInvalidCode)
	}
	if stored.Attempts >= s.cfg.MaxCodeAttempts {
		return nil, fmt.Errorf("%w: запросите новый код", ErrTooManyAttempts)
	}

	if subtle.ConstantTimeCompare([]byte(stored.CodeHash), []byte(sha256Hex(code))) != 1 {
		attempts, err := repo.IncrementAttempts(ctx, stored.ID)
		if err != nil {
			return nil, err
		}
		if attempts >= s.cfg.MaxCodeAttempts {
			if err := repo.ConsumeTwoFactorCode(ctx, stored.ID); err != nil && !errors.Is(err, repository.ErrConflict) {
				return nil, err
			}
			s.logger.Warn("Код 2FA сгорел после неверных попыток", slog.String("user_id", userID))
			return nil, fmt.Errorf("%w: код аннулирован, запросите новый", ErrTooManyAttempts)
		}
		return nil, fmt.Errorf("%w: осталось попыток %d", ErrInvalidCode, s.cfg.MaxCodeAttempts-attempts)
	}

	if err := repo.ConsumeTwoFactorCode(ctx, stored.ID); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: код уже использован", ErrInvalidCode)
		}
		return nil, err
	}

	user, err := s.store.Repos().Users.GetByID(ctx, userID)
	if err != nil {
		return nil, translate(err)
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: учётная запись отключена", ErrForbidden)
	}
	return s.complete(ctx, user)
}

// --- Сброс пароля ---

// ForgotPassword отправляет ссылку сброса пароля.
// Ответ не зависит от существования email: ошибки только логируются.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return validationf("email обязателен")
	}

	user, err := s.store.Repos().Users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Error("Ошибка поиска пользователя для сброса пароля", slog.String("error", err.Error()))
		}
		return nil
	}
	if !user.IsActive {
		s.logger.Info("Сброс пароля для отключённой учётной записи пропущен", slog.String("user_id", user.ID))
		return nil
	}

	raw, err := randomHex(resetTokenBytes)
	if err != nil {
		return err
	}
	err = s.store.InTx(ctx, func(r *repository.Repos) error {
		if err := r.AuthTokens.InvalidateResetTokens(ctx, user.ID); err != nil {
			return err
		}
		return r.AuthTokens.CreateResetToken(ctx, &model.PasswordResetToken{
			TokenHash: sha256Hex(raw),
			UserID:    user.ID,
			ExpiresAt: s.now().Add(s.cfg.ResetTokenTTL),
		})
	})
	if err != nil {
		s.logger.Error("Ошибка сохранения токена сброса", slog.String("error", err.Error()))
		return nil
	}

	link := strings.TrimRight(s.cfg.AppURL, "/") + "/reset-password/" + raw
	err = s.mailer.SendTemplate(ctx, user.Email, mailer.TemplatePasswordReset, map[string]string{
		"USER_NAME":       user.Username,
		"RESET_LINK":      link,
		"EXPIRES_MINUTES": strconv.Itoa(int(s.cfg.ResetTokenTTL.Minutes())),
	})
	if err != nil {
		s.logger.Error("Ошибка отправки письма сброса пароля",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	s.logger.Info("Ссылка сброса пароля отправлена", slog.String("user_id", user.ID))
	return nil
}

// ValidateResetToken сообщает, можно ли использовать токен сброса.
func (s *AuthService) ValidateResetToken(ctx context.Context, raw string) bool {
	if raw == "" {
		return false
	}
	t, err := s.store.Repos().AuthTokens.GetResetToken(ctx, sha256Hex(raw))
	if err != nil {
		return false
	}
	return t.Usable(s.now())
}

// ResetPassword устанавливает новый пароль по токену сброса.
// Токен одноразовый: повторное использование - ErrInvalidToken.
func (s *AuthService) ResetPassword(ctx context.Context, raw, newPassword string) error {
	if raw == "" {
		return validationf("token обязателен")
	}
	hash, err := s.hashPassword(newPassword)
	if err != nil {
		return err
	}

	t, err := s.store.Repos().AuthTokens.GetResetToken(ctx, sha256Hex(raw))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidToken
		}
		return err
	}
	if !t.Usable(s.now()) {
		return ErrInvalidToken
	}

	err = s.store.InTx(ctx, func(r *repository.Repos) error {
		if err := r.AuthTokens.UseResetToken(ctx, t.TokenHash); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return ErrInvalidToken
			}
			return err
		}
		return r.Users.UpdatePassword(ctx, t.UserID, hash)
	})
	if err != nil {
		return translate(err)
	}

	s.logger.Info("Пароль сброшен по ссылке", slog.String("user_id", t.UserID))
	s.passwordChanged(ctx, t.UserID)
	return nil
}

// hashPassword проверяет пароль политикой и хэширует bcrypt.
func (s *AuthService) hashPassword(pw string) (string, error) {
	if err := s.cfg.Policy.Validate(pw); err != nil {
		return "", fmt.Errorf("%w: %w", ErrValidation, err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pw), s.cfg.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("хэширование пароля: %w", err)
	}
	return string(hash), nil
}

// passwordChanged уведомляет пользователя о смене пароля (уведомление и письмо).
func (s *AuthService) passwordChanged(ctx context.Context, userID string) {
	s.notifications.NotifySafe(ctx, NotificationInput{
		UserID:   userID,
		Title:    "Пароль изменён",
		Message:  "Пароль вашей учётной записи был изменён. Если это были не вы, обратитесь к администратору.",
		Type:     model.NotificationTypeWarning,
		Priority: model.PriorityHigh,
	})

	user, err := s.store.Repos().Users.GetByID(ctx, userID)
	if err != nil {
		return
	}
	err = s.mailer.SendTemplate(ctx, user.Email, mailer.TemplatePasswordChanged, map[string]string{
		"USER_NAME":  user.Username,
		"CHANGED_AT": s.now().UTC().Format("02.01.2006 15:04 UTC"),
	})
	if err != nil {
		s.logger.Warn("Не удалось отправить письмо о смене пароля",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

// --- Генерация секретов ---

func randomDigits(n int) (string, error) {
	limit := big.NewInt(int64(math.Pow10(n)))
	v, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("генерация кода: %w", err)
	}
	return fmt.Sprintf("%0*d", n, v.Int64()), nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("генерация токена: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
