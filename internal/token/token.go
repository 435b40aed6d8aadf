// Пакет token - выпуск и проверка JWT (HS256) Project Assistant.
// Токен бывает полным или «ожидающим 2FA» (claim tfa=pending):
// второй принимается только эндпоинтами второго фактора и /api/auth/me.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bigkaa/project-assistant/internal/domain/model"
)

// TwoFactorPending - значение claim tfa для токена до подтверждения кода.
const TwoFactorPending = "pending"

// ErrInvalid - токен не прошёл проверку подписи, срока или issuer.
var ErrInvalid = errors.New("невалидный или просроченный токен")

// Claims - claims токена Project Assistant.
type Claims struct {
	jwt.RegisteredClaims
	// Role - глобальная роль на момент выпуска
	Role string `json:"role"`
	// Username - имя пользователя (для логов и UI)
	Username string `json:"username,omitempty"`
	// TwoFactor - "pending", пока второй фактор не подтверждён
	TwoFactor string `json:"tfa,omitempty"`
}

// Pending сообщает, что токен выпущен до подтверждения второго фактора.
func (c *Claims) Pending() bool {
	return c.TwoFactor == TwoFactorPending
}

// Issuer выпускает и проверяет токены.
type Issuer struct {
	secret     []byte
	issuer     string
	ttl        time.Duration
	pendingTTL time.Duration
	leeway     time.Duration
	now        func() time.Time
}

// NewIssuer создаёт Issuer.
// ttl - срок полного токена, pendingTTL - срок токена в ожидании 2FA.
func NewIssuer(secret, issuer string, ttl, pendingTTL time.Duration) *Issuer {
	return &Issuer{
		secret:     []byte(secret),
		issuer:     issuer,
		ttl:        ttl,
		pendingTTL: pendingTTL,
		leeway:     5 * time.Second,
		now:        time.Now,
	}
}

// Issue выпускает токен для пользователя.
// Возвращает подписанную строку и момент истечения.
func (i *Issuer) Issue(u *model.User, pending bool) (string, time.Time, error) {
	now := i.now().UTC()
	ttl := i.ttl
	claims := Claims{
		Role:     u.GlobalRole,
		Username: u.Username,
	}
	if pending {
		ttl = i.pendingTTL
		claims.TwoFactor = TwoFactorPending
	}
	expiresAt := now.Add(ttl)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   u.ID,
		Issuer:    i.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("подпись токена: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse проверяет подпись, срок действия и issuer токена.
func (i *Issuer) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(i.issuer),
		jwt.WithLeeway(i.leeway),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalid
	}
	return claims, nil
}
