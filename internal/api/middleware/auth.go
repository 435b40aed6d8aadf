// auth.go - JWT middleware аутентификации и авторизации Project Assistant.
// Проверяет Bearer-токен (HS256, выпущен самим сервисом), подтягивает
// актуальную роль пользователя из БД и помещает claims в контекст.
// Токен в ожидании 2FA пропускается только на маршруты второго фактора.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/project-assistant/internal/api/errors"
	"github.com/bigkaa/project-assistant/internal/domain/rbac"
	"github.com/bigkaa/project-assistant/internal/service"
	"github.com/bigkaa/project-assistant/internal/token"
)

// contextKey - тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeyClaims - claims аутентифицированного пользователя.
	ContextKeyClaims contextKey = "auth_claims"
	// contextKeySlot - слот RequestLogger для id пользователя.
	contextKeySlot contextKey = "claims_slot"
)

// claimsSlot - id пользователя, заполняемый JWTAuth для журнала запросов.
type claimsSlot struct {
	userID string
}

func withClaimsSlot(ctx context.Context, slot *claimsSlot) context.Context {
	return context.WithValue(ctx, contextKeySlot, slot)
}

// AuthClaims - субъект запроса после проверки токена.
type AuthClaims struct {
	// UserID - sub токена
	UserID string
	// Username - имя пользователя из токена
	Username string
	// Role - актуальная глобальная роль (из БД, если задан RoleProvider)
	Role string
	// TwoFactorPending - токен выпущен до подтверждения кода
	TwoFactorPending bool
}

// Actor возвращает субъекта для сервисного слоя.
func (c *AuthClaims) Actor() service.Actor {
	return service.Actor{UserID: c.UserID, Role: c.Role}
}

// RoleProvider - источник актуальной роли пользователя.
// Реализуется service.AuthService.
type RoleProvider interface {
	// CurrentRole возвращает роль активного пользователя.
	// service.ErrNotFound - пользователь удалён, service.ErrForbidden - отключён.
	CurrentRole(ctx context.Context, userID string) (string, error)
}

// JWTAuth - middleware JWT-аутентификации.
type JWTAuth struct {
	issuer *token.Issuer
	roles  RoleProvider
	logger *slog.Logger
}

// NewJWTAuth создаёт JWT middleware.
// roles может быть nil: тогда используется роль из токена.
func NewJWTAuth(issuer *token.Issuer, roles RoleProvider, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		issuer: issuer,
		roles:  roles,
		logger: logger.With(slog.String("component", "jwt_auth")),
	}
}

// Middleware требует полный токен. Токен в ожидании 2FA отклоняется с 403.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return j.middleware(false)
}

// AllowPending пропускает и полный токен, и токен в ожидании 2FA.
// Используется для /api/auth/2fa/* и /api/auth/me.
func (j *JWTAuth) AllowPending() func(http.Handler) http.Handler {
	return j.middleware(true)
}

func (j *JWTAuth) middleware(allowPending bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(w, r)
			if !ok {
				return
			}

			claims, err := j.issuer.Parse(tokenString)
			if err != nil {
				j.logger.Debug("JWT валидация не пройдена",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			if claims.Pending() && !allowPending {
				apierrors.WriteError(w, http.StatusForbidden, apierrors.CodeTwoFactorRequired,
					"Требуется подтверждение второго фактора")
				return
			}

			authClaims := &AuthClaims{
				UserID:           claims.Subject,
				Username:         claims.Username,
				Role:             claims.Role,
				TwoFactorPending: claims.Pending(),
			}

			if j.roles != nil {
				role, err := j.roles.CurrentRole(r.Context(), claims.Subject)
				switch {
				case err == nil:
					authClaims.Role = role
				case errors.Is(err, service.ErrNotFound):
					apierrors.Unauthorized(w, "Пользователь не найден")
					return
				case errors.Is(err, service.ErrForbidden):
					apierrors.Forbidden(w, "Учётная запись отключена")
					return
				default:
					j.logger.Error("Ошибка получения роли пользователя",
						slog.String("user_id", claims.Subject),
						slog.String("error", err.Error()),
					)
					apierrors.InternalError(w, "Не удалось проверить пользователя")
					return
				}
			}

			if slot, ok := r.Context().Value(contextKeySlot).(*claimsSlot); ok {
				slot.userID = authClaims.UserID
			}
			ctx := context.WithValue(r.Context(), ContextKeyClaims, authClaims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken извлекает токен из заголовка Authorization.
// При ошибке записывает 401 и возвращает false.
func bearerToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
		return "", false
	}

	tokenString := strings.TrimSpace(parts[1])
	if tokenString == "" {
		apierrors.Unauthorized(w, "Пустой Bearer token")
		return "", false
	}
	return tokenString, true
}

// --- RBAC middleware helpers ---

// RequireRole возвращает middleware, требующий роль не ниже min.
// Должен использоваться ПОСЛЕ JWTAuth.Middleware().
func RequireRole(min string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
				return
			}
			if !rbac.AtLeast(claims.Role, min) {
				apierrors.Forbidden(w, fmt.Sprintf("Недостаточно прав: требуется роль %s", min))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission возвращает middleware, требующий разрешение по имени.
// Должен использоваться ПОСЛЕ JWTAuth.Middleware().
func RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
				return
			}
			if !rbac.Can(claims.Role, permission) {
				apierrors.Forbidden(w, fmt.Sprintf("Недостаточно прав: требуется разрешение %s", permission))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// --- Context helpers ---

// ClaimsFromContext извлекает AuthClaims из контекста запроса.
// Возвращает nil, если claims не найдены.
func ClaimsFromContext(ctx context.Context) *AuthClaims {
	claims, _ := ctx.Value(ContextKeyClaims).(*AuthClaims)
	return claims
}

// WithClaims кладёт claims в контекст. Используется в тестах обработчиков.
func WithClaims(ctx context.Context, claims *AuthClaims) context.Context {
	return context.WithValue(ctx, ContextKeyClaims, claims)
}

// SubjectFromContext извлекает id пользователя из контекста запроса.
// Возвращает пустую строку, если claims не найдены.
func SubjectFromContext(ctx context.Context) string {
	claims := ClaimsFromContext(ctx)
	if claims == nil {
		return ""
	}
	return claims.UserID
}
