package repotest

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/project-assistant/internal/domain/model"
	"github.com/bigkaa/project-assistant/internal/repository"
)

// --- копирование записей ---

func cloneUser(u *model.User) *model.User {
	c := *u
	return &c
}

func cloneNotification(n *model.Notification) *model.Notification {
	c := *n
	c.Metadata = maps.Clone(n.Metadata)
	return &c
}

func cloneFolder(f *model.KnowledgeFolder) *model.KnowledgeFolder {
	c := *f
	return &c
}

func cloneDocument(d *model.KnowledgeDocument) *model.KnowledgeDocument {
	c := *d
	c.Tags = slices.Clone(d.Tags)
	return &c
}

func cloneSubmission(s *model.AgentSubmission) *model.AgentSubmission {
	c := *s
	c.Metadata = maps.Clone(s.Metadata)
	return &c
}

func ptrEq(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// --- users ---

type userRepo struct{ s *Store }

func (r *userRepo) Create(_ context.Context, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = strings.TrimSpace(u.Email)
	u.Username = strings.TrimSpace(u.Username)
	for _, e := range r.s.st.users {
		if strings.EqualFold(e.Email, u.Email) || strings.EqualFold(e.Username, u.Username) || e.ID == u.ID {
			return fmt.Errorf("%w: пользователь с таким email или username уже существует", repository.ErrConflict)
		}
	}
	now := r.s.tick()
	u.CreatedAt, u.UpdatedAt = now, now
	r.s.st.users[u.ID] = cloneUser(u)
	return nil
}

func (r *userRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.st.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneUser(u), nil
}

func (r *userRepo) GetByLogin(_ context.Context, login string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	login = strings.TrimSpace(login)
	for _, u := range r.s.st.users {
		if strings.EqualFold(u.Email, login) || strings.EqualFold(u.Username, login) {
			return cloneUser(u), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *userRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	email = strings.TrimSpace(email)
	for _, u := range r.s.st.users {
		if strings.EqualFold(u.Email, email) {
			return cloneUser(u), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *userRepo) List(_ context.Context, limit, offset int) ([]*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	all := make([]*model.User, 0, len(r.s.st.users))
	for _, u := range r.s.st.users {
		all = append(all, cloneUser(u))
	}
	sort.Slice(all, func(i, j int) bool {
		return strings.ToLower(all[i].Username) < strings.ToLower(all[j].Username)
	})
	return page(all, limit, offset), nil
}

func (r *userRepo) Count(_ context.Context) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.st.users), nil
}

func (r *userRepo) Update(_ context.Context, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	old, ok := r.s.st.users[u.ID]
	if !ok {
		return repository.ErrNotFound
	}
	c := cloneUser(old)
	c.GlobalRole, c.IsActive, c.TwoFactorEnabled = u.GlobalRole, u.IsActive, u.TwoFactorEnabled
	c.UpdatedAt = r.s.tick()
	u.UpdatedAt = c.UpdatedAt
	r.s.st.users[u.ID] = c
	return nil
}

func (r *userRepo) UpdatePassword(_ context.Context, id, hash string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	old, ok := r.s.st.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	c := cloneUser(old)
	c.PasswordHash = hash
	c.UpdatedAt = r.s.tick()
	r.s.st.users[id] = c
	return nil
}

func (r *userRepo) TouchLastLogin(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if old, ok := r.s.st.users[id]; ok {
		c := cloneUser(old)
		now := r.s.tick()
		c.LastLoginAt = &now
		r.s.st.users[id] = c
	}
	return nil
}

func page[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return []T{}
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}

// --- projects ---

type projectRepo struct{ s *Store }

func (r *projectRepo) Create(_ context.Context, p *model.Project) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	for _, e := range r.s.st.projects {
		if e.Name == p.Name {
			return fmt.Errorf("%w: проект %q уже существует", repository.ErrConflict, p.Name)
		}
	}
	p.CreatedAt = r.s.tick()
	c := *p
	r.s.st.projects[p.ID] = &c
	return nil
}

func (r *projectRepo) GetByID(_ context.Context, id string) (*model.Project, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.st.projects[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (r *projectRepo) List(_ context.Context) ([]*model.Project, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.sorted(func(*model.Project) bool { return true }), nil
}

func (r *projectRepo) ListForUser(_ context.Context, userID string) ([]*model.Project, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.sorted(func(p *model.Project) bool {
		_, ok := r.s.st.members[memberKey{p.ID, userID}]
		return ok
	}), nil
}

func (r *projectRepo) sorted(keep func(*model.Project) bool) []*model.Project {
	out := make([]*model.Project, 0)
	for _, p := range r.s.st.projects {
		if keep(p) {
			c := *p
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *projectRepo) AddMember(_ context.Context, m *model.ProjectMember) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.projects[m.ProjectID]; !ok {
		return repository.ErrNotFound
	}
	if _, ok := r.s.st.users[m.UserID]; !ok {
		return repository.ErrNotFound
	}
	key := memberKey{m.ProjectID, m.UserID}
	c := *m
	if old, ok := r.s.st.members[key]; ok {
		c.CreatedAt = old.CreatedAt
	} else {
		c.CreatedAt = r.s.tick()
	}
	m.CreatedAt = c.CreatedAt
	r.s.st.members[key] = &c
	return nil
}

func (r *projectRepo) RemoveMember(_ context.Context, projectID, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := memberKey{projectID, userID}
	if _, ok := r.s.st.members[key]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.st.members, key)
	return nil
}

func (r *projectRepo) ListMembers(_ context.Context, projectID string) ([]*model.ProjectMember, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*model.ProjectMember, 0)
	for k, m := range r.s.st.members {
		if k.projectID == projectID {
			c := *m
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *projectRepo) IsMember(_ context.Context, projectID, userID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.st.members[memberKey{projectID, userID}]
	return ok, nil
}

// --- notifications ---

type notificationRepo struct{ s *Store }

func (r *notificationRepo) Create(_ context.Context, n *model.Notification) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.users[n.UserID]; !ok {
		return false, fmt.Errorf("%w: пользователь или проект не существует", repository.ErrNotFound)
	}
	if n.RequestID != nil {
		for _, e := range r.s.st.notifications {
			if e.UserID == n.UserID && ptrEq(e.RequestID, n.RequestID) {
				*n = *cloneNotification(e)
				return false, nil
			}
		}
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Metadata == nil {
		n.Metadata = map[string]any{}
	}
	n.IsRead, n.IsDeleted, n.ReadAt, n.DeletedAt = false, false, nil, nil
	n.CreatedAt = r.s.tick()
	r.s.st.notifications[n.ID] = cloneNotification(n)
	return true, nil
}

func (r *notificationRepo) GetByID(_ context.Context, id string) (*model.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n, ok := r.s.st.notifications[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneNotification(n), nil
}

func (r *notificationRepo) ListForUser(_ context.Context, userID string, f model.NotificationFilter) ([]*model.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*model.Notification, 0)
	for _, n := range r.s.st.notifications {
		if n.UserID != userID || (!f.IncludeDeleted && n.IsDeleted) {
			continue
		}
		if f.ProjectID != nil && !ptrEq(n.ProjectID, f.ProjectID) {
			continue
		}
		if f.Since != nil && !n.CreatedAt.After(*f.Since) {
			continue
		}
		out = append(out, cloneNotification(n))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return page(out, f.Limit, 0), nil
}

// update применяет fn к уведомлениям, прошедшим match, и возвращает их число.
func (r *notificationRepo) update(match func(*model.Notification) bool, fn func(*model.Notification, time.Time)) int64 {
	var affected int64
	now := r.s.tick()
	for id, n := range r.s.st.notifications {
		if !match(n) {
			continue
		}
		c := cloneNotification(n)
		fn(c, now)
		r.s.st.notifications[id] = c
		affected++
	}
	return affected
}

func markRead(n *model.Notification, now time.Time) {
	n.IsRead = true
	if n.ReadAt == nil {
		n.ReadAt = &now
	}
}

func markDeleted(n *model.Notification, now time.Time) {
	n.IsDeleted = true
	if n.DeletedAt == nil {
		n.DeletedAt = &now
	}
}

func (r *notificationRepo) MarkAsRead(_ context.Context, id string) (*model.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.update(func(n *model.Notification) bool { return n.ID == id }, markRead) == 0 {
		return nil, repository.ErrNotFound
	}
	return cloneNotification(r.s.st.notifications[id]), nil
}

func inProject(n *model.Notification, projectID *string) bool {
	return projectID == nil || ptrEq(n.ProjectID, projectID)
}

func (r *notificationRepo) MarkAllAsRead(_ context.Context, userID string, projectID *string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.update(func(n *model.Notification) bool {
		return n.UserID == userID && !n.IsRead && !n.IsDeleted && inProject(n, projectID)
	}, markRead), nil
}

func (r *notificationRepo) SoftDelete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.update(func(n *model.Notification) bool { return n.ID == id }, markDeleted) == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *notificationRepo) ClearAll(_ context.Context, userID string, projectID *string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.update(func(n *model.Notification) bool {
		return n.UserID == userID && !n.IsDeleted && inProject(n, projectID)
	}, markDeleted), nil
}

func (r *notificationRepo) BulkMarkRead(_ context.Context, userID string, ids []string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.update(func(n *model.Notification) bool {
		return n.UserID == userID && !n.IsRead && slices.Contains(ids, n.ID)
	}, markRead), nil
}

func (r *notificationRepo) BulkDelete(_ context.Context, userID string, ids []string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.update(func(n *model.Notification) bool {
		return n.UserID == userID && !n.IsDeleted && slices.Contains(ids, n.ID)
	}, markDeleted), nil
}

func (r *notificationRepo) UnreadCount(_ context.Context, userID string, projectID *string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	count := 0
	for _, n := range r.s.st.notifications {
		if n.UserID == userID && !n.IsRead && !n.IsDeleted && inProject(n, projectID) {
			count++
		}
	}
	return count, nil
}

func (r *notificationRepo) SoftDeleteReadBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.update(func(n *model.Notification) bool {
		return n.IsRead && !n.IsDeleted && n.CreatedAt.Before(cutoff)
	}, markDeleted), nil
}

// --- folders ---

type folderRepo struct{ s *Store }

func (r *folderRepo) Create(_ context.Context, f *model.KnowledgeFolder) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.projects[f.ProjectID]; !ok {
		return fmt.Errorf("%w: проект или родительская папка не существует", repository.ErrNotFound)
	}
	if f.ParentFolderID != nil {
		if _, ok := r.s.st.folders[*f.ParentFolderID]; !ok {
			return fmt.Errorf("%w: проект или родительская папка не существует", repository.ErrNotFound)
		}
	}
	if r.nameTaken(f) {
		return fmt.Errorf("%w: папка %q уже существует на этом уровне", repository.ErrConflict, f.Name)
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := r.s.tick()
	f.DocumentCount, f.SubfolderCount = 0, 0
	f.CreatedAt, f.UpdatedAt = now, now
	r.s.st.folders[f.ID] = cloneFolder(f)
	return nil
}

func (r *folderRepo) nameTaken(f *model.KnowledgeFolder) bool {
	for _, e := range r.s.st.folders {
		if e.ID != f.ID && e.ProjectID == f.ProjectID && ptrEq(e.ParentFolderID, f.ParentFolderID) && e.Name == f.Name {
			return true
		}
	}
	return false
}

func (r *folderRepo) GetByID(_ context.Context, projectID, id string) (*model.KnowledgeFolder, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f, ok := r.s.st.folders[id]
	if !ok || f.ProjectID != projectID {
		return nil, repository.ErrNotFound
	}
	return cloneFolder(f), nil
}

func (r *folderRepo) List(_ context.Context, projectID string, filter repository.FolderListFilter) ([]*model.KnowledgeFolder, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*model.KnowledgeFolder, 0)
	for _, f := range r.s.st.folders {
		if f.ProjectID != projectID {
			continue
		}
		switch {
		case filter.RootOnly && f.ParentFolderID != nil:
			continue
		case !filter.RootOnly && filter.ParentID != nil && !ptrEq(f.ParentFolderID, filter.ParentID):
			continue
		}
		out = append(out, cloneFolder(f))
	}
	sortFolders(out)
	return out, nil
}

func sortFolders(fs []*model.KnowledgeFolder) {
	sort.Slice(fs, func(i, j int) bool {
		a, b := strings.ToLower(fs[i].Name), strings.ToLower(fs[j].Name)
		if a != b {
			return a < b
		}
		return fs[i].ID < fs[j].ID
	})
}

// children возвращает детей папки parentID в порядке имён.
func (r *folderRepo) children(parentID string) []*model.KnowledgeFolder {
	out := make([]*model.KnowledgeFolder, 0)
	for _, f := range r.s.st.folders {
		if f.ParentFolderID != nil && *f.ParentFolderID == parentID {
			out = append(out, f)
		}
	}
	sortFolders(out)
	return out
}

// walk - обход в ширину с защитой от циклов и ограничением глубины,
// как рекурсивный CTE SQL-реализации.
func (r *folderRepo) walk(start []*model.KnowledgeFolder, visited map[string]bool, maxDepth int) []repository.FolderDepth {
	var out []repository.FolderDepth
	level := start
	for depth := 1; depth <= maxDepth && len(level) > 0; depth++ {
		var next []*model.KnowledgeFolder
		for _, f := range level {
			if visited[f.ID] {
				continue
			}
			visited[f.ID] = true
			out = append(out, repository.FolderDepth{Folder: cloneFolder(f), Depth: depth})
			next = append(next, r.children(f.ID)...)
		}
		level = next
	}
	return out
}

func (r *folderRepo) ListTree(_ context.Context, projectID string, maxDepth int) ([]repository.FolderDepth, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var roots []*model.KnowledgeFolder
	for _, f := range r.s.st.folders {
		if f.ProjectID == projectID && f.ParentFolderID == nil {
			roots = append(roots, f)
		}
	}
	sortFolders(roots)
	return r.walk(roots, map[string]bool{}, maxDepth), nil
}

func (r *folderRepo) Descendants(_ context.Context, id string, maxDepth int) ([]repository.FolderDepth, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.walk(r.children(id), map[string]bool{id: true}, maxDepth), nil
}

func (r *folderRepo) Depth(_ context.Context, id string, maxDepth int) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f, ok := r.s.st.folders[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	depth := 1
	for f.ParentFolderID != nil && depth <= maxDepth {
		parent, ok := r.s.st.folders[*f.ParentFolderID]
		if !ok {
			break
		}
		f = parent
		depth++
	}
	return depth, nil
}

func (r *folderRepo) Update(_ context.Context, f *model.KnowledgeFolder) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	old, ok := r.s.st.folders[f.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if r.nameTaken(f) {
		return fmt.Errorf("%w: папка %q уже существует на этом уровне", repository.ErrConflict, f.Name)
	}
	c := cloneFolder(old)
	c.Name, c.Description, c.ParentFolderID, c.Path = f.Name, f.Description, f.ParentFolderID, f.Path
	c.UpdatedAt = r.s.tick()
	f.UpdatedAt = c.UpdatedAt
	r.s.st.folders[f.ID] = c
	return nil
}

func (r *folderRepo) RewritePaths(_ context.Context, projectID, oldPrefix, newPrefix string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, f := range r.s.st.folders {
		if f.ProjectID != projectID || !strings.HasPrefix(f.Path, oldPrefix+"/") {
			continue
		}
		c := cloneFolder(f)
		c.Path = newPrefix + f.Path[len(oldPrefix):]
		r.s.st.folders[id] = c
		n++
	}
	return n, nil
}

func (r *folderRepo) AdjustCounters(_ context.Context, id string, documents, subfolders int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f, ok := r.s.st.folders[id]
	if !ok {
		return repository.ErrNotFound
	}
	c := cloneFolder(f)
	c.DocumentCount += documents
	c.SubfolderCount += subfolders
	r.s.st.folders[id] = c
	return nil
}

func (r *folderRepo) IsEmpty(_ context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.children(id)) == 0 && r.documentsIn(id) == 0, nil
}

func (r *folderRepo) documentsIn(folderID string) int {
	n := 0
	for _, d := range r.s.st.documents {
		if d.FolderID != nil && *d.FolderID == folderID {
			n++
		}
	}
	return n
}

func (r *folderRepo) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.folders[id]; !ok {
		return repository.ErrNotFound
	}
	if len(r.children(id)) > 0 || r.documentsIn(id) > 0 {
		return fmt.Errorf("%w: папка не пуста", repository.ErrConflict)
	}
	delete(r.s.st.folders, id)
	return nil
}

func (r *folderRepo) Recount(_ context.Context, projectID string) ([]model.FolderCounts, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]model.FolderCounts, 0)
	for id, f := range r.s.st.folders {
		if f.ProjectID != projectID {
			continue
		}
		docs, subs := r.documentsIn(id), len(r.children(id))
		if docs == f.DocumentCount && subs == f.SubfolderCount {
			continue
		}
		c := cloneFolder(f)
		c.DocumentCount, c.SubfolderCount = docs, subs
		r.s.st.folders[id] = c
		out = append(out, model.FolderCounts{FolderID: id, DocumentCount: docs, SubfolderCount: subs})
	}
	return out, nil
}

// --- documents ---

type documentRepo struct{ s *Store }

func (r *documentRepo) Create(_ context.Context, d *model.KnowledgeDocument) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.projects[d.ProjectID]; !ok {
		return fmt.Errorf("%w: проект или папка не существует", repository.ErrNotFound)
	}
	if d.FolderID != nil {
		if _, ok := r.s.st.folders[*d.FolderID]; !ok {
			return fmt.Errorf("%w: проект или папка не существует", repository.ErrNotFound)
		}
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Tags == nil {
		d.Tags = []string{}
	}
	d.Version = 1
	d.SizeBytes = int64(len(d.Content))
	now := r.s.tick()
	d.CreatedAt, d.UpdatedAt = now, now
	r.s.st.documents[d.ID] = cloneDocument(d)
	r.addVersion(d, now)
	return nil
}

func (r *documentRepo) addVersion(d *model.KnowledgeDocument, at time.Time) {
	r.s.st.versions[d.ID] = append(slices.Clone(r.s.st.versions[d.ID]), &model.DocumentVersion{
		DocumentID: d.ID,
		Version:    d.Version,
		Title:      d.Title,
		Content:    d.Content,
		AuthorID:   d.AuthorID,
		CreatedAt:  at,
	})
}

func (r *documentRepo) GetByID(_ context.Context, id string) (*model.KnowledgeDocument, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.st.documents[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneDocument(d), nil
}

func (r *documentRepo) List(_ context.Context, f model.DocumentFilter) ([]*model.KnowledgeDocument, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	search := strings.ToLower(strings.TrimSpace(f.Search))
	fileType := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(f.FileType), "."))
	out := make([]*model.KnowledgeDocument, 0)
	for _, d := range r.s.st.documents {
		if d.ProjectID != f.ProjectID {
			continue
		}
		if f.RootOnly && d.FolderID != nil {
			continue
		}
		if !f.RootOnly && f.FolderID != nil && !ptrEq(d.FolderID, f.FolderID) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(d.Title), search) &&
			!strings.Contains(strings.ToLower(d.Content), search) &&
			!slices.Contains(d.Tags, strings.TrimSpace(f.Search)) {
			continue
		}
		if fileType != "" && strings.ToLower(d.FileType) != fileType {
			continue
		}
		out = append(out, cloneDocument(d))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	return page(out, limit, f.Offset), nil
}

func (r *documentRepo) Update(_ context.Context, d *model.KnowledgeDocument, expectedVersion int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	old, ok := r.s.st.documents[d.ID]
	if !ok || old.Version != expectedVersion {
		return fmt.Errorf("%w: документ изменён другим запросом", repository.ErrConflict)
	}
	if d.Tags == nil {
		d.Tags = []string{}
	}
	c := cloneDocument(old)
	c.Title, c.Content, c.FolderID, c.Tags, c.AuthorID = d.Title, d.Content, d.FolderID, slices.Clone(d.Tags), d.AuthorID
	c.SizeBytes = int64(len(d.Content))
	c.Version = old.Version + 1
	c.UpdatedAt = r.s.tick()
	d.SizeBytes, d.Version, d.UpdatedAt = c.SizeBytes, c.Version, c.UpdatedAt
	r.s.st.documents[d.ID] = c
	r.addVersion(c, c.UpdatedAt)
	return nil
}

func (r *documentRepo) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.documents[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.st.documents, id)
	delete(r.s.st.versions, id)
	return nil
}

func (r *documentRepo) ListVersions(_ context.Context, documentID string) ([]*model.DocumentVersion, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	vs := r.s.st.versions[documentID]
	out := make([]*model.DocumentVersion, 0, len(vs))
	for i := len(vs) - 1; i >= 0; i-- {
		c := *vs[i]
		out = append(out, &c)
	}
	return out, nil
}

func (r *documentRepo) GetVersion(_ context.Context, documentID string, version int) (*model.DocumentVersion, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, v := range r.s.st.versions[documentID] {
		if v.Version == version {
			c := *v
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

// --- submissions ---

type submissionRepo struct{ s *Store }

func (r *submissionRepo) Create(_ context.Context, sub *model.AgentSubmission) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.projects[sub.ProjectID]; !ok {
		return fmt.Errorf("%w: проект не существует", repository.ErrNotFound)
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.Metadata == nil {
		sub.Metadata = map[string]any{}
	}
	sub.Status = model.SubmissionPending
	sub.CreatedAt = r.s.tick()
	r.s.st.submissions[sub.ID] = cloneSubmission(sub)
	return nil
}

func (r *submissionRepo) GetByID(_ context.Context, projectID, id string) (*model.AgentSubmission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.st.submissions[id]
	if !ok || sub.ProjectID != projectID {
		return nil, repository.ErrNotFound
	}
	return cloneSubmission(sub), nil
}

// GetForUpdate - в памяти блокировка строки не нужна: транзакции последовательны.
func (r *submissionRepo) GetForUpdate(ctx context.Context, projectID, id string) (*model.AgentSubmission, error) {
	return r.GetByID(ctx, projectID, id)
}

func (r *submissionRepo) List(_ context.Context, projectID string, status *string) ([]*model.AgentSubmission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*model.AgentSubmission, 0)
	for _, sub := range r.s.st.submissions {
		if sub.ProjectID == projectID && (status == nil || sub.Status == *status) {
			out = append(out, cloneSubmission(sub))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *submissionRepo) Finish(_ context.Context, sub *model.AgentSubmission) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	old, ok := r.s.st.submissions[sub.ID]
	if !ok || old.Status != model.SubmissionPending {
		return fmt.Errorf("%w: заявка уже обработана", repository.ErrConflict)
	}
	if sub.Metadata == nil {
		sub.Metadata = map[string]any{}
	}
	c := cloneSubmission(old)
	now := r.s.tick()
	c.Status, c.Metadata, c.DocumentID, c.ProcessedBy, c.ProcessedAt = sub.Status, maps.Clone(sub.Metadata), sub.DocumentID, sub.ProcessedBy, &now
	sub.ProcessedAt = &now
	r.s.st.submissions[sub.ID] = c
	return nil
}

// --- email templates ---

type emailTemplateRepo struct{ s *Store }

func (r *emailTemplateRepo) GetActive(_ context.Context, processName string) (*model.EmailTemplate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.st.templates[processName]
	if !ok || !t.IsActive {
		return nil, repository.ErrNotFound
	}
	c := *t
	c.Parameters = slices.Clone(t.Parameters)
	return &c, nil
}

// --- auth tokens ---

type authTokenRepo struct{ s *Store }

func (r *authTokenRepo) CreateResetToken(_ context.Context, t *model.PasswordResetToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.resetTokens[t.TokenHash]; ok {
		return repository.ErrConflict
	}
	t.CreatedAt = r.s.tick()
	c := *t
	r.s.st.resetTokens[t.TokenHash] = &c
	return nil
}

func (r *authTokenRepo) GetResetToken(_ context.Context, tokenHash string) (*model.PasswordResetToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.st.resetTokens[tokenHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (r *authTokenRepo) UseResetToken(_ context.Context, tokenHash string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.st.resetTokens[tokenHash]
	if !ok || t.UsedAt != nil {
		return fmt.Errorf("%w: токен уже использован", repository.ErrConflict)
	}
	c := *t
	now := r.s.tick()
	c.UsedAt = &now
	r.s.st.resetTokens[tokenHash] = &c
	return nil
}

func (r *authTokenRepo) InvalidateResetTokens(_ context.Context, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.tick()
	for h, t := range r.s.st.resetTokens {
		if t.UserID == userID && t.UsedAt == nil {
			c := *t
			c.UsedAt = &now
			r.s.st.resetTokens[h] = &c
		}
	}
	return nil
}

func (r *authTokenRepo) CreateTwoFactorCode(_ context.Context, code *model.TwoFactorCode) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if code.ID == "" {
		code.ID = uuid.NewString()
	}
	code.CreatedAt = r.s.tick()
	c := *code
	r.s.st.codes[code.ID] = &c
	return nil
}

func (r *authTokenRepo) LatestTwoFactorCode(_ context.Context, userID string) (*model.TwoFactorCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var latest *model.TwoFactorCode
	for _, c := range r.s.st.codes {
		if c.UserID != userID || c.ConsumedAt != nil {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	c := *latest
	return &c, nil
}

func (r *authTokenRepo) IncrementAttempts(_ context.Context, id string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	code, ok := r.s.st.codes[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	c := *code
	c.Attempts++
	r.s.st.codes[id] = &c
	return c.Attempts, nil
}

func (r *authTokenRepo) ConsumeTwoFactorCode(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	code, ok := r.s.st.codes[id]
	if !ok || code.ConsumedAt != nil {
		return fmt.Errorf("%w: код уже использован", repository.ErrConflict)
	}
	c := *code
	now := r.s.tick()
	c.ConsumedAt = &now
	r.s.st.codes[id] = &c
	return nil
}

func (r *authTokenRepo) InvalidateTwoFactorCodes(_ context.Context, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.tick()
	for id, code := range r.s.st.codes {
		if code.UserID == userID && code.ConsumedAt == nil {
			c := *code
			c.ConsumedAt = &now
			r.s.st.codes[id] = &c
		}
	}
	return nil
}
