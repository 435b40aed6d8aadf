package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestNormalizePath(t *testing.T) {
	const id = "3f0c8a52-6b1e-4e0f-9a39-2f8f1c0d9b11"
	tests := []struct {
		path string
		want string
	}{
		{"/health/live", "/health/live"},
		{"/api/notifications", "/api/notifications"},
		{"/api/notifications/" + id + "/read", "/api/notifications/{id}/read"},
		{"/api/notifications/" + id + "/unread-count", "/api/notifications/{id}/unread-count"},
		{"/api/knowledge/documents/" + id + "/compare", "/api/knowledge/documents/{id}/compare"},
		{"/api/admin/projects/" + id + "/members/" + id, "/api/admin/projects/{id}/members/{id}"},
		{"/api/auth/validate-reset-token/abcdef0123", "/api/auth/validate-reset-token/{token}"},
		{"/api/knowledge/folders/not-a-uuid", "/api/knowledge/folders/not-a-uuid"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, ожидается %q", tt.path, got, tt.want)
		}
	}
}

func TestMetricsMiddleware_PassesStatus(t *testing.T) {
	h := MetricsMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("статус = %d", rec.Code)
	}
}

func TestRouteLabel_UsesChiPattern(t *testing.T) {
	var label string
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req)
			label = routeLabel(req)
		})
	})
	r.Get("/api/knowledge/folders/{id}", func(http.ResponseWriter, *http.Request) {})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/knowledge/folders/not-a-uuid", nil))
	if label != "/api/knowledge/folders/{id}" {
		t.Errorf("метка = %q", label)
	}

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/auth/validate-reset-token/abc", nil))
	if label != "/api/auth/validate-reset-token/{token}" {
		t.Errorf("метка несовпавшего маршрута = %q", label)
	}
}
