// dto.go - JSON-представления доменных моделей.
// Уведомления и аутентификация отдаются в camelCase, база знаний
// и администрирование - в snake_case, как их читает клиент.
package handlers

import (
	"time"

	"github.com/bigkaa/project-assistant/internal/domain/foldertree"
	"github.com/bigkaa/project-assistant/internal/domain/model"
)

type userResponse struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Username         string     `json:"username"`
	GlobalRole       string     `json:"global_role"`
	IsActive         bool       `json:"is_active"`
	TwoFactorEnabled bool       `json:"two_factor_enabled"`
	LastLoginAt      *time.Time `json:"last_login_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func toUser(u *model.User) userResponse {
	return userResponse{
		ID:               u.ID,
		Email:            u.Email,
		Username:         u.Username,
		GlobalRole:       u.GlobalRole,
		IsActive:         u.IsActive,
		TwoFactorEnabled: u.TwoFactorEnabled,
		LastLoginAt:      u.LastLoginAt,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}
}

type notificationResponse struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	ProjectID *string        `json:"projectId"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Type      string         `json:"type"`
	Priority  string         `json:"priority"`
	IsRead    bool           `json:"isRead"`
	IsDeleted bool           `json:"isDeleted"`
	Metadata  map[string]any `json:"metadata"`
	RequestID *string        `json:"requestId,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	ReadAt    *time.Time     `json:"readAt,omitempty"`
	DeletedAt *time.Time     `json:"deletedAt,omitempty"`
}

func toNotification(n *model.Notification) notificationResponse {
	meta := n.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return notificationResponse{
		ID:        n.ID,
		UserID:    n.UserID,
		ProjectID: n.ProjectID,
		Title:     n.Title,
		Message:   n.Message,
		Type:      n.Type,
		Priority:  n.Priority,
		IsRead:    n.IsRead,
		IsDeleted: n.IsDeleted,
		Metadata:  meta,
		RequestID: n.RequestID,
		CreatedAt: n.CreatedAt,
		ReadAt:    n.ReadAt,
		DeletedAt: n.DeletedAt,
	}
}

func toNotifications(list []*model.Notification) []notificationResponse {
	out := make([]notificationResponse, 0, len(list))
	for _, n := range list {
		out = append(out, toNotification(n))
	}
	return out
}

type folderResponse struct {
	ID             string    `json:"id"`
	ProjectID      string    `json:"project_id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	Path           string    `json:"path"`
	ParentFolderID *string   `json:"parent_folder_id"`
	CreatedBy      *string   `json:"created_by"`
	DocumentCount  int       `json:"document_count"`
	SubfolderCount int       `json:"subfolder_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toFolder(f *model.KnowledgeFolder) folderResponse {
	return folderResponse{
		ID:             f.ID,
		ProjectID:      f.ProjectID,
		Name:           f.Name,
		Description:    f.Description,
		Path:           f.Path,
		ParentFolderID: f.ParentFolderID,
		CreatedBy:      f.CreatedBy,
		DocumentCount:  f.DocumentCount,
		SubfolderCount: f.SubfolderCount,
		CreatedAt:      f.CreatedAt,
		UpdatedAt:      f.UpdatedAt,
	}
}

func toFolders(list []*model.KnowledgeFolder) []folderResponse {
	out := make([]folderResponse, 0, len(list))
	for _, f := range list {
		out = append(out, toFolder(f))
	}
	return out
}

type folderNodeResponse struct {
	folderResponse
	Depth    int                  `json:"depth"`
	Children []folderNodeResponse `json:"children"`
}

type folderTreeResponse struct {
	Roots   []folderNodeResponse `json:"roots"`
	Orphans []folderResponse     `json:"orphans"`
}

func toFolderTree(t *foldertree.Tree) folderTreeResponse {
	var node func(n *foldertree.Node) folderNodeResponse
	node = func(n *foldertree.Node) folderNodeResponse {
		out := folderNodeResponse{
			folderResponse: toFolder(&n.Folder),
			Depth:          n.Depth,
			Children:       make([]folderNodeResponse, 0, len(n.Children)),
		}
		for _, c := range n.Children {
			out.Children = append(out.Children, node(c))
		}
		return out
	}

	resp := folderTreeResponse{
		Roots:   make([]folderNodeResponse, 0, len(t.Roots)),
		Orphans: make([]folderResponse, 0, len(t.Orphans)),
	}
	for _, r := range t.Roots {
		resp.Roots = append(resp.Roots, node(r))
	}
	for i := range t.Orphans {
		resp.Orphans = append(resp.Orphans, toFolder(&t.Orphans[i]))
	}
	return resp
}

type documentResponse struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	FolderID  *string   `json:"folder_id"`
	Title     string    `json:"title"`
	Content   *string   `json:"content,omitempty"`
	FileName  string    `json:"file_name"`
	FileType  string    `json:"file_type"`
	SizeBytes int64     `json:"size_bytes"`
	Tags      []string  `json:"tags"`
	AuthorID  *string   `json:"author_id"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// toDocument - документ; withContent=false для списков.
func toDocument(d *model.KnowledgeDocument, withContent bool) documentResponse {
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	resp := documentResponse{
		ID:        d.ID,
		ProjectID: d.ProjectID,
		FolderID:  d.FolderID,
		Title:     d.Title,
		FileName:  d.FileName,
		FileType:  d.FileType,
		SizeBytes: d.SizeBytes,
		Tags:      tags,
		AuthorID:  d.AuthorID,
		Version:   d.Version,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	if withContent {
		content := d.Content
		resp.Content = &content
	}
	return resp
}

type versionResponse struct {
	DocumentID string    `json:"document_id"`
	Version    int       `json:"version"`
	Title      string    `json:"title"`
	AuthorID   *string   `json:"author_id"`
	CreatedAt  time.Time `json:"created_at"`
}

type submissionResponse struct {
	ID             string         `json:"id"`
	ProjectID      string         `json:"project_id"`
	AgentID        string         `json:"agent_id"`
	AgentName      string         `json:"agent_name"`
	SubmissionType string         `json:"submission_type"`
	Title          string         `json:"title"`
	Content        string         `json:"content"`
	FileName       string         `json:"file_name"`
	Status         string         `json:"status"`
	Metadata       map[string]any `json:"metadata"`
	DocumentID     *string        `json:"document_id"`
	ProcessedBy    *string        `json:"processed_by"`
	ProcessedAt    *time.Time     `json:"processed_at"`
	CreatedAt      time.Time      `json:"created_at"`
}

func toSubmission(s *model.AgentSubmission) submissionResponse {
	meta := s.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return submissionResponse{
		ID:             s.ID,
		ProjectID:      s.ProjectID,
		AgentID:        s.AgentID,
		AgentName:      s.AgentName,
		SubmissionType: s.SubmissionType,
		Title:          s.Title,
		Content:        s.Content,
		FileName:       s.FileName,
		Status:         s.Status,
		Metadata:       meta,
		DocumentID:     s.DocumentID,
		ProcessedBy:    s.ProcessedBy,
		ProcessedAt:    s.ProcessedAt,
		CreatedAt:      s.CreatedAt,
	}
}

type projectResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type memberResponse struct {
	ProjectID string    `json:"project_id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}
