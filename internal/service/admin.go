// admin.go - администрирование: пользователи, проекты, участники.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/bigkaa/project-assistant/internal/domain/model"
	"github.com/bigkaa/project-assistant/internal/domain/rbac"
	"github.com/bigkaa/project-assistant/internal/repository"
)

const (
	defaultUserListLimit = 100
	maxUserListLimit     = 1000
	// DefaultMemberRole - роль участника проекта по умолчанию.
	DefaultMemberRole = "member"
)

// UserInput - данные нового пользователя.
type UserInput struct {
	Email            string
	Username         string
	Password         string
	GlobalRole       string
	TwoFactorEnabled bool
}

// UserPatch - изменение пользователя администратором.
type UserPatch struct {
	GlobalRole       *string
	IsActive         *bool
	TwoFactorEnabled *bool
}

// AdminService - управление пользователями и проектами.
type AdminService struct {
	store  repository.Store
	auth   *AuthService
	logger *slog.Logger
}

// NewAdminService создаёт сервис администрирования.
// auth используется для хэширования пароля и уведомления о его смене.
func NewAdminService(store repository.Store, auth *AuthService, logger *slog.Logger) *AdminService {
	return &AdminService{
		store:  store,
		auth:   auth,
		logger: logger.With(slog.String("component", "admin")),
	}
}

func requireUsersAdmin(actor Actor) error {
	if !actor.Can(rbac.PermUsersAdmin) {
		return fmt.Errorf("%w: требуется роль %s", ErrForbidden, rbac.RoleSystemAdmin)
	}
	return nil
}

// ListUsers возвращает страницу пользователей и общее количество.
func (s *AdminService) ListUsers(ctx context.Context, actor Actor, limit, offset int) ([]*model.User, int, error) {
	if err := requireUsersAdmin(actor); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = defaultUserListLimit
	}
	limit = min(limit, maxUserListLimit)
	offset = max(offset, 0)

	repo := s.store.Repos().Users
	users, err := repo.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, translate(err)
	}
	total, err := repo.Count(ctx)
	if err != nil {
		return nil, 0, translate(err)
	}
	return users, total, nil
}

// GetUser возвращает пользователя.
func (s *AdminService) GetUser(ctx context.Context, actor Actor, id string) (*model.User, error) {
	if err := requireUsersAdmin(actor); err != nil {
		return nil, err
	}
	u, err := s.store.Repos().Users.GetByID(ctx, id)
	return u, translate(err)
}

// CreateUser создаёт пользователя. Пароль проверяется политикой при хэшировании.
func (s *AdminService) CreateUser(ctx context.Context, actor Actor, in UserInput) (*model.User, error) {
	if err := requireUsersAdmin(actor); err != nil {
		return nil, err
	}

	email := strings.TrimSpace(in.Email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, validationf("некорректный email")
	}
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return nil, validationf("username обязателен")
	}
	if len(username) > maxNameLen {
		return nil, validationf("username длиннее %d символов", maxNameLen)
	}
	role := in.GlobalRole
	if role == "" {
		role = rbac.RoleUser
	}
	if !rbac.IsValidRole(role) {
		return nil, validationf("недопустимая роль %q", role)
	}
	hash, err := s.auth.hashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	u := &model.User{
		Email:            email,
		Username:         username,
		PasswordHash:     hash,
		GlobalRole:       role,
		IsActive:         true,
		TwoFactorEnabled: in.TwoFactorEnabled,
	}
	if err := s.store.Repos().Users.Create(ctx, u); err != nil {
		return nil, translate(err)
	}

	s.logger.Info("Пользователь создан",
		slog.String("id", u.ID),
		slog.String("username", u.Username),
		slog.String("role", u.GlobalRole),
		slog.String("created_by", actor.UserID),
	)
	return u, nil
}

// UpdateUser меняет роль, активность и 2FA пользователя.
// Администратор не может понизить или деактивировать сам себя.
func (s *AdminService) UpdateUser(ctx context.Context, actor Actor, id string, p UserPatch) (*model.User, error) {
	if err := requireUsersAdmin(actor); err != nil {
		return nil, err
	}
	if p.GlobalRole != nil && !rbac.IsValidRole(*p.GlobalRole) {
		return nil, validationf("недопустимая роль %q", *p.GlobalRole)
	}
	if id == actor.UserID {
		if p.GlobalRole != nil && !rbac.AtLeast(*p.GlobalRole, actor.Role) {
			return nil, fmt.Errorf("%w: нельзя понизить собственную роль", ErrForbidden)
		}
		if p.IsActive != nil && !*p.IsActive {
			return nil, fmt.Errorf("%w: нельзя деактивировать собственную учётную запись", ErrForbidden)
		}
	}

	var result *model.User
	err := s.store.InTx(ctx, func(r *repository.Repos) error {
		u, err := r.Users.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if p.GlobalRole != nil {
			u.GlobalRole = *p.GlobalRole
		}
		if p.IsActive != nil {
			u.IsActive = *p.IsActive
		}
		if p.TwoFactorEnabled != nil {
			u.TwoFactorEnabled = *p.TwoFactorEnabled
		}
		if err := r.Users.Update(ctx, u); err != nil {
			return err
		}
		result = u
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}

	s.logger.Info("Пользователь изменён",
		slog.String("id", id),
		slog.String("role", result.GlobalRole),
		slog.Bool("is_active", result.IsActive),
		slog.String("updated_by", actor.UserID),
	)
	return result, nil
}

// SetPassword задаёт пароль пользователя. Неиспользованные токены сброса
// аннулируются, пользователь получает уведомление.
func (s *AdminService) SetPassword(ctx context.Context, actor Actor, id, newPassword string) error {
	if err := requireUsersAdmin(actor); err != nil {
		return err
	}
	hash, err := s.auth.hashPassword(newPassword)
	if err != nil {
		return err
	}

	err = s.store.InTx(ctx, func(r *repository.Repos) error {
		if err := r.Users.UpdatePassword(ctx, id, hash); err != nil {
			return err
		}
		return r.AuthTokens.InvalidateResetTokens(ctx, id)
	})
	if err != nil {
		return translate(err)
	}

	s.logger.Info("Пароль пользователя задан администратором",
		slog.String("id", id),
		slog.String("updated_by", actor.UserID),
	)
	s.auth.passwordChanged(ctx, id)
	return nil
}

// --- Проекты ---

// ListProjects возвращает все проекты для system_admin и свои для остальных.
func (s *AdminService) ListProjects(ctx context.Context, actor Actor) ([]*model.Project, error) {
	repo := s.store.Repos().Projects
	var (
		list []*model.Project
		err  error
	)
	if actor.IsSystemAdmin() {
		list, err = repo.List(ctx)
	} else {
		list, err = repo.ListForUser(ctx, actor.UserID)
	}
	return list, translate(err)
}

// CreateProject создаёт проект.
func (s *AdminService) CreateProject(ctx context.Context, actor Actor, name string) (*model.Project, error) {
	if err := requireUsersAdmin(actor); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationf("name обязателен")
	}
	p := &model.Project{Name: name}
	if err := s.store.Repos().Projects.Create(ctx, p); err != nil {
		return nil, translate(err)
	}
	s.logger.Info("Проект создан", slog.String("id", p.ID), slog.String("name", p.Name))
	return p, nil
}

// ListMembers возвращает участников проекта.
func (s *AdminService) ListMembers(ctx context.Context, actor Actor, projectID string) ([]*model.ProjectMember, error) {
	if err := requireUsersAdmin(actor); err != nil {
		return nil, err
	}
	list, err := s.store.Repos().Projects.ListMembers(ctx, projectID)
	return list, translate(err)
}

// AddMember добавляет пользователя в проект. Повторное добавление меняет роль участника.
func (s *AdminService) AddMember(ctx context.Context, actor Actor, projectID, userID, role string) (*model.ProjectMember, error) {
	if err := requireUsersAdmin(actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(userID) == "" {
		return nil, validationf("user_id обязателен")
	}
	if role == "" {
		role = DefaultMemberRole
	}
	m := &model.ProjectMember{ProjectID: projectID, UserID: userID, Role: role}

	err := s.store.InTx(ctx, func(r *repository.Repos) error {
		if _, err := r.Projects.GetByID(ctx, projectID); err != nil {
			return err
		}
		if _, err := r.Users.GetByID(ctx, userID); err != nil {
			return err
		}
		return r.Projects.AddMember(ctx, m)
	})
	if err != nil {
		return nil, translate(err)
	}
	s.logger.Info("Участник добавлен в проект",
		slog.String("project_id", projectID),
		slog.String("user_id", userID),
	)
	return m, nil
}

// RemoveMember удаляет пользователя из проекта.
func (s *AdminService) RemoveMember(ctx context.Context, actor Actor, projectID, userID string) error {
	if err := requireUsersAdmin(actor); err != nil {
		return err
	}
	return translate(s.store.Repos().Projects.RemoveMember(ctx, projectID, userID))
}
