package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/project-assistant/internal/domain/model"
	"github.com/bigkaa/project-assistant/internal/domain/rbac"
	"github.com/bigkaa/project-assistant/internal/service"
	"github.com/bigkaa/project-assistant/internal/token"
)

const testSecret = "test-secret-test-secret-test-secret"

// mockRoleProvider - роли пользователей из map.
type mockRoleProvider struct {
	roles    map[string]string
	inactive map[string]bool
	err      error
}

func (m *mockRoleProvider) CurrentRole(_ context.Context, userID string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	if m.inactive[userID] {
		return "", fmt.Errorf("%w: отключён", service.ErrForbidden)
	}
	role, ok := m.roles[userID]
	if !ok {
		return "", service.ErrNotFound
	}
	return role, nil
}

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestIssuer() *token.Issuer {
	return token.NewIssuer(testSecret, "project-assistant", time.Hour, 10*time.Minute)
}

func issue(t *testing.T, iss *token.Issuer, id, role string, pending bool) string {
	t.Helper()
	tok, _, err := iss.Issue(&model.User{ID: id, Username: id, GlobalRole: role}, pending)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

// echoClaims отвечает 200 и возвращает claims из контекста.
var echoClaims = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	_ = json.NewEncoder(w).Encode(ClaimsFromContext(r.Context()))
})

func doRequest(h http.Handler, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("тело ошибки не JSON: %v", err)
	}
	if body.Error == "" {
		t.Error("пустое сообщение об ошибке")
	}
	return body.Code
}

func TestJWTAuth_HeaderErrors(t *testing.T) {
	auth := NewJWTAuth(newTestIssuer(), nil, testLogger())
	h := auth.Middleware()(echoClaims)

	tests := []struct {
		name   string
		header string
	}{
		{"нет заголовка", ""},
		{"не Bearer", "Basic abc"},
		{"пустой токен", "Bearer  "},
		{"мусор", "Bearer not-a-jwt"},
		{"чужая подпись", "Bearer " + issue(t, token.NewIssuer(strings.Repeat("x", 32), "project-assistant", time.Hour, time.Minute), "u", "user", false)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(h, tt.header)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("статус = %d, ожидается 401", rec.Code)
			}
			if code := errorCode(t, rec); code != "UNAUTHORIZED" {
				t.Errorf("code = %s", code)
			}
		})
	}
}

func TestJWTAuth_FreshRoleFromProvider(t *testing.T) {
	iss := newTestIssuer()
	roles := &mockRoleProvider{roles: map[string]string{"u-1": rbac.RoleProjectAdmin}}
	h := NewJWTAuth(iss, roles, testLogger()).Middleware()(echoClaims)

	rec := doRequest(h, "Bearer "+issue(t, iss, "u-1", rbac.RoleUser, false))
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d", rec.Code)
	}
	var claims AuthClaims
	_ = json.NewDecoder(rec.Body).Decode(&claims)
	if claims.UserID != "u-1" || claims.Role != rbac.RoleProjectAdmin {
		t.Errorf("claims = %+v, ожидается роль из БД", claims)
	}
}

func TestJWTAuth_UserStateErrors(t *testing.T) {
	iss := newTestIssuer()
	roles := &mockRoleProvider{
		roles:    map[string]string{"active": rbac.RoleUser},
		inactive: map[string]bool{"blocked": true},
	}
	h := NewJWTAuth(iss, roles, testLogger()).Middleware()(echoClaims)

	if rec := doRequest(h, "Bearer "+issue(t, iss, "blocked", rbac.RoleUser, false)); rec.Code != http.StatusForbidden {
		t.Errorf("отключённый пользователь: статус = %d, ожидается 403", rec.Code)
	}
	if rec := doRequest(h, "Bearer "+issue(t, iss, "ghost", rbac.RoleUser, false)); rec.Code != http.StatusUnauthorized {
		t.Errorf("удалённый пользователь: статус = %d, ожидается 401", rec.Code)
	}

	broken := NewJWTAuth(iss, &mockRoleProvider{err: fmt.Errorf("db down")}, testLogger()).Middleware()(echoClaims)
	if rec := doRequest(broken, "Bearer "+issue(t, iss, "active", rbac.RoleUser, false)); rec.Code != http.StatusInternalServerError {
		t.Errorf("ошибка БД: статус = %d, ожидается 500", rec.Code)
	}
}

func TestJWTAuth_PendingTwoFactor(t *testing.T) {
	iss := newTestIssuer()
	auth := NewJWTAuth(iss, nil, testLogger())
	pending := "Bearer " + issue(t, iss, "u-1", rbac.RoleUser, true)

	rec := doRequest(auth.Middleware()(echoClaims), pending)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("pending токен на обычном маршруте: статус = %d, ожидается 403", rec.Code)
	}
	if code := errorCode(t, rec); code != "TWO_FACTOR_REQUIRED" {
		t.Errorf("code = %s", code)
	}

	rec = doRequest(auth.AllowPending()(echoClaims), pending)
	if rec.Code != http.StatusOK {
		t.Fatalf("pending токен на маршруте 2FA: статус = %d", rec.Code)
	}
	var claims AuthClaims
	_ = json.NewDecoder(rec.Body).Decode(&claims)
	if !claims.TwoFactorPending {
		t.Error("TwoFactorPending не выставлен")
	}
}

func TestRequireRoleAndPermission(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	tests := []struct {
		name    string
		handler http.Handler
		role    string
		want    int
	}{
		{"роль выше минимальной", RequireRole(rbac.RoleProjectAdmin)(ok), rbac.RoleSystemAdmin, http.StatusNoContent},
		{"роль ниже минимальной", RequireRole(rbac.RoleProjectAdmin)(ok), rbac.RoleUser, http.StatusForbidden},
		{"разрешение есть", RequirePermission(rbac.PermKnowledgeWrite)(ok), rbac.RoleUser, http.StatusNoContent},
		{"разрешения нет", RequirePermission(rbac.PermKnowledgeWrite)(ok), rbac.RoleGuest, http.StatusForbidden},
		{"неизвестное разрешение", RequirePermission("files:delete")(ok), rbac.RoleSystemAdmin, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(WithClaims(req.Context(), &AuthClaims{UserID: "u", Role: tt.role}))
			rec := httptest.NewRecorder()
			tt.handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("статус = %d, ожидается %d", rec.Code, tt.want)
			}
		})
	}

	rec := httptest.NewRecorder()
	RequireRole(rbac.RoleGuest)(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("без claims: статус = %d, ожидается 401", rec.Code)
	}
}
