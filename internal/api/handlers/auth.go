// auth.go - обработчики /api/auth/*: вход, второй фактор, сброс пароля.
package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/project-assistant/internal/api/middleware"
	"github.com/bigkaa/project-assistant/internal/service"
)

// AuthHandler - обработчик аутентификации.
type AuthHandler struct {
	auth   *service.AuthService
	logger *slog.Logger
}

// NewAuthHandler создаёт обработчик аутентификации.
func NewAuthHandler(auth *service.AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		auth:   auth,
		logger: logger.With(slog.String("component", "auth_handler")),
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Login    string `json:"login"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token             string       `json:"token"`
	ExpiresAt         time.Time    `json:"expiresAt"`
	User              userResponse `json:"user"`
	RequiresTwoFactor bool         `json:"requiresTwoFactor"`
}

func toLoginResponse(res *service.LoginResult) loginResponse {
	return loginResponse{
		Token:             res.Token,
		ExpiresAt:         res.ExpiresAt,
		User:              toUser(res.User),
		RequiresTwoFactor: res.RequiresTwoFactor,
	}
}

// Login - POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	login := req.Login
	for _, v := range []string{req.Email, req.Username} {
		if login == "" {
			login = v
		}
	}

	res, err := h.auth.Login(r.Context(), login, req.Password)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoginResponse(res))
}

type meResponse struct {
	User             userResponse `json:"user"`
	TwoFactorPending bool         `json:"twoFactorPending"`
}

// Me - GET /api/auth/me. Доступен и с токеном в ожидании 2FA.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	u, err := h.auth.Me(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{User: toUser(u), TwoFactorPending: claims.TwoFactorPending})
}

type sendCodeResponse struct {
	Message           string    `json:"message"`
	ExpiresAt         time.Time `json:"expiresAt"`
	RetryAfterSeconds int       `json:"retryAfterSeconds"`
}

// SendTwoFactor - POST /api/auth/2fa/send.
func (h *AuthHandler) SendTwoFactor(w http.ResponseWriter, r *http.Request) {
	res, err := h.auth.SendTwoFactorCode(r.Context(), middleware.SubjectFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sendCodeResponse{
		Message:           "Код отправлен на email",
		ExpiresAt:         res.ExpiresAt,
		RetryAfterSeconds: res.RetryAfterSeconds,
	})
}

type verifyRequest struct {
	Code string `json:"code"`
}

// VerifyTwoFactor - POST /api/auth/2fa/verify. Успех возвращает полный токен.
func (h *AuthHandler) VerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.auth.VerifyTwoFactorCode(r.Context(), middleware.SubjectFromContext(r.Context()), req.Code)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoginResponse(res))
}

type messageResponse struct {
	Message string `json:"message"`
}

type forgotRequest struct {
	Email string `json:"email"`
}

// ForgotPassword - POST /api/auth/forgot-password.
// Ответ одинаков для известного и неизвестного email.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.auth.ForgotPassword(r.Context(), req.Email); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{
		Message: "Если адрес зарегистрирован, на него отправлена ссылка для сброса пароля",
	})
}

// ValidateResetToken - GET /api/auth/validate-reset-token/{token}.
func (h *AuthHandler) ValidateResetToken(w http.ResponseWriter, r *http.Request) {
	valid := h.auth.ValidateResetToken(r.Context(), strings.TrimSpace(chi.URLParam(r, "token")))
	writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

type resetRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// ResetPassword - POST /api/auth/reset-password.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.auth.ResetPassword(r.Context(), strings.TrimSpace(req.Token), req.Password); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Пароль изменён"})
}

type passwordRequirementsResponse struct {
	MinLength           int  `json:"minLength"`
	RequireUppercase    bool `json:"requireUppercase"`
	RequireLowercase    bool `json:"requireLowercase"`
	RequireNumbers      bool `json:"requireNumbers"`
	RequireSpecialChars bool `json:"requireSpecialChars"`
}

// PasswordRequirements - GET /api/auth/password-requirements.
func (h *AuthHandler) PasswordRequirements(w http.ResponseWriter, _ *http.Request) {
	p := h.auth.PasswordPolicy()
	writeJSON(w, http.StatusOK, passwordRequirementsResponse{
		MinLength:           p.MinLength,
		RequireUppercase:    p.RequireUppercase,
		RequireLowercase:    p.RequireLowercase,
		RequireNumbers:      p.RequireNumbers,
		RequireSpecialChars: p.RequireSpecialChars,
	})
}
