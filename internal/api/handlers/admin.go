// admin.go - обработчики администрирования: пользователи, проекты, участники.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/project-assistant/internal/api/errors"
	"github.com/bigkaa/project-assistant/internal/service"
)

// AdminHandler - обработчик администрирования.
type AdminHandler struct {
	admin  *service.AdminService
	logger *slog.Logger
}

// NewAdminHandler создаёт обработчик администрирования.
func NewAdminHandler(admin *service.AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		admin:  admin,
		logger: logger.With(slog.String("component", "admin_handler")),
	}
}

type userListResponse struct {
	Users  []userResponse `json:"users"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// ListUsers - GET /api/admin/users?limit=&offset=.
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := paginationDefaults(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	users, total, err := h.admin.ListUsers(r.Context(), actor(r), limit, offset)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	resp := userListResponse{Users: make([]userResponse, 0, len(users)), Total: total, Limit: limit, Offset: offset}
	for _, u := range users {
		resp.Users = append(resp.Users, toUser(u))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetUser - GET /api/admin/users/{id}.
func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.admin.GetUser(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toUser(u))
}

type createUserRequest struct {
	Email            string `json:"email"`
	Username         string `json:"username"`
	Password         string `json:"password"`
	GlobalRole       string `json:"global_role"`
	TwoFactorEnabled bool   `json:"two_factor_enabled"`
}

// CreateUser - POST /api/admin/users.
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	u, err := h.admin.CreateUser(r.Context(), actor(r), service.UserInput{
		Email:            req.Email,
		Username:         req.Username,
		Password:         req.Password,
		GlobalRole:       req.GlobalRole,
		TwoFactorEnabled: req.TwoFactorEnabled,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUser(u))
}

type updateUserRequest struct {
	GlobalRole       *string `json:"global_role"`
	IsActive         *bool   `json:"is_active"`
	TwoFactorEnabled *bool   `json:"two_factor_enabled"`
}

// UpdateUser - PATCH /api/admin/users/{id}.
func (h *AdminHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	u, err := h.admin.UpdateUser(r.Context(), actor(r), chi.URLParam(r, "id"), service.UserPatch{
		GlobalRole:       req.GlobalRole,
		IsActive:         req.IsActive,
		TwoFactorEnabled: req.TwoFactorEnabled,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toUser(u))
}

type setPasswordRequest struct {
	Password string `json:"password"`
}

// SetPassword - POST /api/admin/users/{id}/set-password.
func (h *AdminHandler) SetPassword(w http.ResponseWriter, r *http.Request) {
	var req setPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.admin.SetPassword(r.Context(), actor(r), chi.URLParam(r, "id"), req.Password); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Пароль изменён"})
}

// --- Проекты ---

// ListProjects - GET /api/projects: проекты текущего пользователя (system_admin - все).
func (h *AdminHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.admin.ListProjects(r.Context(), actor(r))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	out := make([]projectResponse, 0, len(projects))
	for _, p := range projects {
		out = append(out, projectResponse{ID: p.ID, Name: p.Name, CreatedAt: p.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": out})
}

type createProjectRequest struct {
	Name string `json:"name"`
}

// CreateProject - POST /api/admin/projects.
func (h *AdminHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.admin.CreateProject(r.Context(), actor(r), req.Name)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, projectResponse{ID: p.ID, Name: p.Name, CreatedAt: p.CreatedAt})
}

// ListMembers - GET /api/admin/projects/{id}/members.
func (h *AdminHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.admin.ListMembers(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	out := make([]memberResponse, 0, len(members))
	for _, m := range members {
		out = append(out, memberResponse{ProjectID: m.ProjectID, UserID: m.UserID, Role: m.Role, CreatedAt: m.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": out})
}

type addMemberRequest struct {
	Role string `json:"role"`
}

// AddMember - PUT /api/admin/projects/{id}/members/{userId}. Повтор меняет роль.
func (h *AdminHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	var req addMemberRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	m, err := h.admin.AddMember(r.Context(), actor(r), chi.URLParam(r, "id"), chi.URLParam(r, "userId"), req.Role)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, memberResponse{ProjectID: m.ProjectID, UserID: m.UserID, Role: m.Role, CreatedAt: m.CreatedAt})
}

// RemoveMember - DELETE /api/admin/projects/{id}/members/{userId}.
func (h *AdminHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.RemoveMember(r.Context(), actor(r), chi.URLParam(r, "id"), chi.URLParam(r, "userId")); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
