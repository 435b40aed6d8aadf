// knowledge.go - база знаний проекта: папки и документы.
//
// Денормализованные счётчики папок (document_count, subfolder_count) меняются
// в той же транзакции, что и строки, которые они считают. Для исправления
// расхождений есть RecountFolders.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/bigkaa/project-assistant/internal/domain/diff"
	"github.com/bigkaa/project-assistant/internal/domain/foldertree"
	"github.com/bigkaa/project-assistant/internal/domain/model"
	"github.com/bigkaa/project-assistant/internal/domain/rbac"
	"github.com/bigkaa/project-assistant/internal/repository"
)

const (
	maxNameLen = 255
	maxTags    = 50
	maxTagLen  = 64
	// RootParent - значение parent_id для выборки папок верхнего уровня.
	RootParent = "root"
)

// KnowledgeConfig - ограничения базы знаний.
type KnowledgeConfig struct {
	MaxDepth       int
	MaxUploadBytes int64
}

// KnowledgeService - папки, документы и заявки агентов.
type KnowledgeService struct {
	store         repository.Store
	notifications *NotificationService
	suggestions   diff.SuggestionProvider
	cfg           KnowledgeConfig
	logger        *slog.Logger
}

// NewKnowledgeService создаёт сервис базы знаний.
func NewKnowledgeService(
	store repository.Store,
	notifications *NotificationService,
	suggestions diff.SuggestionProvider,
	cfg KnowledgeConfig,
	logger *slog.Logger,
) *KnowledgeService {
	return &KnowledgeService{
		store:         store,
		notifications: notifications,
		suggestions:   suggestions,
		cfg:           cfg,
		logger:        logger.With(slog.String("component", "knowledge")),
	}
}

// authorize проверяет разрешение и доступ к проекту:
// system_admin видит все проекты, остальные только свои.
func (s *KnowledgeService) authorize(ctx context.Context, actor Actor, projectID, permission string) error {
	if strings.TrimSpace(projectID) == "" {
		return validationf("project_id обязателен")
	}
	if !actor.Can(permission) {
		return fmt.Errorf("%w: требуется разрешение %s", ErrForbidden, permission)
	}
	repos := s.store.Repos()
	if actor.IsSystemAdmin() {
		_, err := repos.Projects.GetByID(ctx, projectID)
		return translate(err)
	}
	member, err := repos.Projects.IsMember(ctx, projectID, actor.UserID)
	if err != nil {
		return translate(err)
	}
	if !member {
		return fmt.Errorf("%w: нет доступа к проекту", ErrForbidden)
	}
	return nil
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "", validationf("name обязателен")
	case utf8.RuneCountInString(name) > maxNameLen:
		return "", validationf("name длиннее %d символов", maxNameLen)
	case strings.Contains(name, "/"):
		return "", validationf("name не может содержать '/'")
	}
	return name, nil
}

// --- Папки ---

// FolderInput - данные новой папки.
type FolderInput struct {
	Name           string
	Description    string
	ParentFolderID *string
}

// FolderPatch - изменение папки. SetParent различает «не менять родителя»
// и «перенести в корень» (SetParent=true, ParentFolderID=nil).
type FolderPatch struct {
	Name           *string
	Description    *string
	SetParent      bool
	ParentFolderID *string
}

// ListFolders возвращает плоский список папок.
// parentID: пусто - все, RootParent - верхний уровень, иначе - дети папки.
func (s *KnowledgeService) ListFolders(ctx context.Context, actor Actor, projectID, parentID string) ([]*model.KnowledgeFolder, error) {
	if err := s.authorize(ctx, actor, projectID, rbac.PermKnowledgeRead); err != nil {
		return nil, err
	}
	var filter repository.FolderListFilter
	switch parentID {
	case "":
	case RootParent:
		filter.RootOnly = true
	default:
		filter.ParentID = &parentID
	}
	list, err := s.store.Repos().Folders.List(ctx, projectID, filter)
	return list, translate(err)
}

// GetFolder возвращает папку проекта.
func (s *KnowledgeService) GetFolder(ctx context.Context, actor Actor, projectID, id string) (*model.KnowledgeFolder, error) {
	if err := s.authorize(ctx, actor, projectID, rbac.PermKnowledgeRead); err != nil {
		return nil, err
	}
	f, err := s.store.Repos().Folders.GetByID(ctx, projectID, id)
	return f, translate(err)
}

// FolderTree строит дерево папок проекта.
// Обход в БД ограничен глубиной и защищён от циклов; папки, до которых он
// не дошёл (цикл, слишком глубоко), возвращаются в Orphans.
func (s *KnowledgeService) FolderTree(ctx context.Context, actor Actor, projectID string) (*foldertree.Tree, error) {
	if err := s.authorize(ctx, actor, projectID, rbac.PermKnowledgeRead); err != nil {
		return nil, err
	}
	repo := s.store.Repos().Folders

	reached, err := repo.ListTree(ctx, projectID, s.cfg.MaxDepth)
	if err != nil {
		return nil, translate(err)
	}
	all, err := repo.List(ctx, projectID, repository.FolderListFilter{})
	if err != nil {
		return nil, translate(err)
	}

	seen := make(map[string]bool, len(reached))
	flat := make([]model.KnowledgeFolder, 0, len(reached))
	for _, fd := range reached {
		seen[fd.Folder.ID] = true
		flat = append(flat, *fd.Folder)
	}

	tree := foldertree.Build(flat, s.cfg.MaxDepth)
	for _, f := range all {
		if !seen[f.ID] {
			tree.Orphans = append(tree.Orphans, *f)
		}
	}
	if len(tree.Orphans) > 0 {
		s.logger.Warn("Папки вне дерева проекта",
			slog.String("project_id", projectID),
			slog.Int("count", len(tree.Orphans)),
		)
	}
	return tree, nil
}

// CreateFolder создаёт папку и увеличивает счётчик подпапок родителя.
func (s *KnowledgeService) CreateFolder(ctx context.Context, actor Actor, projectID string, in FolderInput) (*model.KnowledgeFolder, error) {
	if err := s.authorize(ctx, actor, projectID, rbac.PermKnowledgeWrite); err != nil {
		return nil, err
	}
	name, err := validateName(in.Name)
	if err != nil {
		return nil, err
	}

	f := &model.KnowledgeFolder{
		ProjectID:      projectID,
		Name:           name,
		Description:    strings.TrimSpace(in.Description),
		ParentFolderID: in.ParentFolderID,
		CreatedBy:      &actor.UserID,
	}

	err = s.store.InTx(ctx, func(r *repository.Repos) error {
		parentPath := ""
		if in.ParentFolderID != nil {
			parent, err := r.Folders.GetByID(ctx, projectID, *in.ParentFolderID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return validationf("родительская папка не найдена в проекте")
				}
				return err
			}
			depth, err := r.Folders.Depth(ctx, parent.ID, s.cfg.MaxDepth)
			if err != nil {
				return err
			}
			if depth+1 > s.cfg.MaxDepth {
				return validationf("превышена максимальная глубина папок (%d)", s.cfg.MaxDepth)
			}
			parentPath = parent.Path
		}
		f.Path = foldertree.JoinPath(parentPath, name)

		if err := r.Folders.Create(ctx, f); err != nil {
			return err
		}
		if in.ParentFolderID != nil {
			return r.Folders.AdjustCounters(ctx, *in.ParentFolderID, 0, 1)
		}
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}

	s.logger.Info("Папка создана",
		slog.String("id", f.ID),
		slog.String("project_id", projectID),
		slog.String("path", f.Path),
	)
	return f, nil
}

// UpdateFolder переименовывает и/или переносит папку.
// Перенос в саму себя или в потомка - ErrCycle. Пути поддерева переписываются,
// счётчики старого и нового родителя корректируются.
func (s *KnowledgeService) UpdateFolder(ctx context.Context, actor Actor, projectID, id string, p FolderPatch) (*model.KnowledgeFolder, error) {
	if err := s.authorize(ctx, actor, projectID, rbac.PermKnowledgeWrite); err != nil {
		return nil, err
	}

	var result *model.KnowledgeFolder
	err := s.store.InTx(ctx, func(r *repository.Repos) error {
		f, err := r.Folders.GetByID(ctx, projectID, id)
		if err != nil {
			return err
		}
		oldPath, oldParent := f.Path, f.ParentFolderID

		if p.Name != nil {
			if f.Name, err = validateName(*p.Name); err != nil {
				return err
			}
		}
		if p.Description != nil {
			f.Description = strings.TrimSpace(*p.Description)
		}

		parentPath := parentOf(oldPath)
		moved := p.SetParent && !samePtr(oldParent, p.ParentFolderID)
		if moved {
			if parentPath, err = s.checkMove(ctx, r, projectID, f.ID, p.ParentFolderID); err != nil {
				return err
			}
			f.ParentFolderID = p.ParentFolderID
		}
		f.Path = foldertree.JoinPath(parentPath, f.Name)

		if err := r.Folders.Update(ctx, f); err != nil {
			return err
		}
		if f.Path != oldPath {
			if _, err := r.Folders.RewritePaths(ctx, projectID, oldPath, f.Path); err != nil {
				return err
			}
		}
		if moved {
			if oldParent != nil {
				if err := r.Folders.AdjustCounters(ctx, *oldParent, 0, -1); err != nil {
					return err
				}
			}
			if f.ParentFolderID != nil {
				if err := r.Folders.AdjustCounters(ctx, *f.ParentFolderID, 0, 1); err != nil {
					return err
				}
			}
		}

		result, err = r.Folders.GetByID(ctx, projectID, id)
		return err
	})
	if err != nil {
		return nil, translate(err)
	}
	return result, nil
}

// checkMove проверяет перенос папки id под newParent и возвращает путь нового родителя.
func (s *KnowledgeService) checkMove(ctx context.Context, r *repository.Repos, projectID, id string, newParent *string) (string, error) {
	descendants, err := r.Folders.Descendants(ctx, id, s.cfg.MaxDepth)
	if err != nil {
		return "", err
	}
	height := 0
	for _, d := range descendants {
		height = max(height, d.Depth)
	}

	if newParent == nil {
		if 1+height > s.cfg.MaxDepth {
			return "", validationf("превышена максимальная глубина папок (%d)", s.cfg.MaxDepth)
		}
		return "", nil
	}

	if *newParent == id {
		return "", fmt.Errorf("%w: папку нельзя перенести в саму себя", ErrCycle)
	}
	if slices.ContainsFunc(descendants, func(d repository.FolderDepth) bool { return d.Folder.ID == *newParent }) {
		return "", fmt.Errorf("%w: папку нельзя перенести в её потомка", ErrCycle)
	}

	parent, err := r.Folders.GetByID(ctx, projectID, *newParent)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", validationf("родительская папка не найдена в проекте")
		}
		return "", err
	}
	depth, err := r.Folders.Depth(ctx, parent.ID, s.cfg.MaxDepth)
	if err != nil {
		return "", err
	}
	if depth+1+height > s.cfg.MaxDepth {
		return "", validationf("превышена максимальная глубина папок (%d)", s.cfg.MaxDepth)
	}
	return parent.Path, nil
}

// DeleteFolder удаляет пустую папку. Непустая - ErrConflict.
func (s *KnowledgeService) DeleteFolder(ctx context.Context, actor Actor, projectID, id string) error {
	if err := s.authorize(ctx, actor, projectID, rbac.PermKnowledgeWrite); err != nil {
		return err
	}

	err := s.store.InTx(ctx, func(r *repository.Repos) error {
		f, err := r.Folders.GetByID(ctx, projectID, id)
		if err != nil {
			return err
		}
		empty, err := r.Folders.IsEmpty(ctx, id)
		if err != nil {
			return err
		}
		if !empty {
			return fmt.Errorf("%w: папка содержит подпапки или документы", ErrConflict)
		}
		if err := r.Folders.Delete(ctx, id); err != nil {
			return err
		}
		if f.ParentFolderID != nil {
			return r.Folders.AdjustCounters(ctx, *f.ParentFolderID, 0, -1)
		}
		return nil
	})
	if err != nil {
		return translate(err)
	}
	s.logger.Info("Папка удалена", slog.String("id", id), slog.String("project_id", projectID))
	return nil
}

// RecountFolders пересчитывает счётчики папок по фактическим строкам
// и возвращает исправленные папки.
func (s *KnowledgeService) RecountFolders(ctx context.Context, actor Actor, projectID string) ([]model.FolderCounts, error) {
	if err := s.authorize(ctx, actor, projectID, rbac.PermKnowledgeAdmin); err != nil {
		return nil, err
	}
	fixed, err := s.store.Repos().Folders.Recount(ctx, projectID)
	if err != nil {
		return nil, translate(err)
	}
	if len(fixed) > 0 {
		s.logger.Warn("Счётчики папок исправлены",
			slog.String("project_id", projectID),
			slog.Int("count", len(fixed)),
		)
	}
	return fixed, nil
}

func parentOf(p string) string {
	i := strings.LastIndex(p, "/")
	if i <= 0 {
		return ""
	}
	return p[:i]
}

func samePtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// --- Документы ---

// DocumentInput - данные нового документа.
type DocumentInput struct {
	Title    string
	Content  string
	FolderID *string
	FileName string
	FileType string
	Tags     []string
}

// DocumentPatch - изменение документа (новая версия).
// ExpectedVersion > 0 включает проверку, что документ не изменён параллельно.
type DocumentPatch struct {
	Title           *string
	Content         *string
	SetFolder       bool
	FolderID        *string
	Tags            []string
	SetTags         bool
	ExpectedVersion int
}

// VersionComparison - результат сравнения двух версий документа.
type VersionComparison struct {
	DocumentID  string
	From        int
	To          int
	Comparison  *diff.Comparison
	Suggestions []diff.Suggestion
}

// ListDocuments возвращает документы проекта по фильтру.
func (s *KnowledgeService) ListDocuments(ctx context.Context, actor Actor, f model.DocumentFilter) ([]*model.KnowledgeDocument, error) {
	if err := s.authorize(ctx, actor, f.ProjectID, rbac.PermKnowledgeRead); err != nil {
		return nil, err
	}
	list, err := s.store.Repos().Documents.List(ctx, f)
	return list, translate(err)
}

// document загружает документ и проверяет доступ к его проекту.
func (s *KnowledgeService) document(ctx context.Context, actor Actor, id, permission string) (*model.KnowledgeDocument, error) {
	d, err := s.store.Repos().Documents.GetByID(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	if err := s.authorize(ctx, actor, d.ProjectID, permission); err != nil {
		return nil, err
	}
	return d, nil
}

// GetDocument возвращает документ.
func (s *KnowledgeService) GetDocument(ctx context.Context, actor Actor, id string) (*model.KnowledgeDocument, error) {
	return s.document(ctx, actor, id, rbac.PermKnowledgeRead)
}

// CreateDocument создаёт документ (версия 1) и увеличивает счётчик папки.
func (s *KnowledgeService) CreateDocument(ctx context.Context, actor Actor, projectID string, in DocumentInput) (*model.KnowledgeDocument, error) {
	if err := s.authorize(ctx, actor, projectID, rbac.PermKnowledgeWrite); err != nil {
		return nil, err
	}
	d, err := s.newDocument(projectID, actor.UserID, in)
	if err != nil {
		return nil, err
	}

	err = s.store.InTx(ctx, func(r *repository.Repos) error {
		return s.insertDocument(ctx, r, d)
	})
	if err != nil {
		return nil, translate(err)
	}

	s.logger.Info("Документ создан",
		slog.String("id", d.ID),
		slog.String("project_id", projectID),
		slog.Int64("size_bytes", d.SizeBytes),
	)
	return d, nil
}

// newDocument валидирует ввод и собирает модель документа.
func (s *KnowledgeService) newDocument(projectID, authorID string, in DocumentInput) (*model.KnowledgeDocument, error) {
	title := strings.TrimSpace(in.Title)
	fileName := strings.TrimSpace(path.Base("/" + in.FileName))
	if fileName == "/" {
		fileName = ""
	}
	if title == "" {
		title = strings.TrimSuffix(fileName, path.Ext(fileName))
	}
	if title == "" {
		return nil, validationf("title обязателен")
	}
	if utf8.RuneCountInString(title) > maxNameLen {
		return nil, validationf("title длиннее %d символов", maxNameLen)
	}
	if err := s.checkSize(in.Content); err != nil {
		return nil, err
	}
	tags, err := normalizeTags(in.Tags)
	if err != nil {
		return nil, err
	}

	fileType := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(in.FileType), "."))
	if fileType == "" {
		fileType = strings.ToLower(strings.TrimPrefix(path.Ext(fileName), "."))
	}
	if fileType == "" {
		fileType = "md"
	}

	author := authorID
	return &model.KnowledgeDocument{
		ProjectID: projectID,
		FolderID:  in.FolderID,
		Title:     title,
		Content:   in.Content,
		FileName:  fileName,
		FileType:  fileType,
		Tags:      tags,
		AuthorID:  &author,
	}, nil
}

// insertDocument сохраняет документ в транзакции r и обновляет счётчик папки.
func (s *KnowledgeService) insertDocument(ctx context.Context, r *repository.Repos, d *model.KnowledgeDocument) error {
	if d.FolderID != nil {
		if _, err := r.Folders.GetByID(ctx, d.ProjectID, *d.FolderID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return validationf("папка не найдена в проекте")
			}
			return err
		}
	}
	if err := r.Documents.Create(ctx, d); err != nil {
		return err
	}
	if d.FolderID != nil {
		return r.Folders.AdjustCounters(ctx, *d.FolderID, 1, 0)
	}
	return nil
}

func (s *KnowledgeService) checkSize(content string) error {
	if s.cfg.MaxUploadBytes > 0 && int64(len(content)) > s.cfg.MaxUploadBytes {
		return validationf("документ больше %d байт", s.cfg.MaxUploadBytes)
	}
	if !utf8.ValidString(content) {
		return validationf("содержимое документа должно быть текстом UTF-8")
	}
	return nil
}

func normalizeTags(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.TrimSpace(t)
		if t == "" || slices.Contains(out, t) {
			continue
		}
		if utf8.RuneCountInString(t) > maxTagLen {
			return nil, validationf("тег длиннее %d символов", maxTagLen)
		}
		out = append(out, t)
	}
	if len(out) > maxTags {
		return nil, validationf("не более %d тегов", maxTags)
	}
	return out, nil
}

// UpdateDocument сохраняет новую версию документа.
// Перенос в другую папку корректирует счётчики обеих папок.
func (s *KnowledgeService) UpdateDocument(ctx context.Context, actor Actor, id string, p DocumentPatch) (*model.KnowledgeDocument, error) {
	current, err := s.document(ctx, actor, id, rbac.PermKnowledgeWrite)
	if err != nil {
		return nil, err
	}

	var result *model.KnowledgeDocument
	err = s.store.InTx(ctx, func(r *repository.Repos) error {
		d, err := r.Documents.GetByID(ctx, current.ID)
		if err != nil {
			return err
		}
		expected := d.Version
		if p.ExpectedVersion > 0 {
			expected = p.ExpectedVersion
		}
		oldFolder := d.FolderID

		if p.Title != nil {
			title := strings.TrimSpace(*p.Title)
			if title == "" {
				return validationf("title не может быть пустым")
			}
			d.Title = title
		}
		if p.Content != nil {
			if err := s.checkSize(*p.Content); err != nil {
				return err
			}
			d.Content = *p.Content
		}
		if p.SetTags {
			if d.Tags, err = normalizeTags(p.Tags); err != nil {
				return err
			}
		}
		moved := p.SetFolder && !samePtr(oldFolder, p.FolderID)
		if moved {
			if p.FolderID != nil {
				if _, err := r.Folders.GetByID(ctx, d.ProjectID, *p.FolderID); err != nil {
					if errors.Is(err, repository.ErrNotFound) {
						return validationf("папка не найдена в проекте")
					}
					return err
				}
			}
			d.FolderID = p.FolderID
		}
		author := actor.UserID
		d.AuthorID = &author

		if err := r.Documents.Update(ctx, d, expected); err != nil {
			return err
		}
		if moved {
			if oldFolder != nil {
				if err := r.Folders.AdjustCounters(ctx, *oldFolder, -1, 0); err != nil {
					return err
				}
			}
			if d.FolderID != nil {
				if err := r.Folders.AdjustCounters(ctx, *d.FolderID, 1, 0); err != nil {
					return err
				}
			}
		}
		result = d
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}

	s.logger.Info("Документ обновлён",
		slog.String("id", id),
		slog.Int("version", result.Version),
	)
	return result, nil
}

// DeleteDocument удаляет документ вместе с версиями и уменьшает счётчик папки.
func (s *KnowledgeService) DeleteDocument(ctx context.Context, actor Actor, id string) error {
	if _, err := s.document(ctx, actor, id, rbac.PermKnowledgeWrite); err != nil {
		return err
	}
	err := s.store.InTx(ctx, func(r *repository.Repos) error {
		d, err := r.Documents.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := r.Documents.Delete(ctx, id); err != nil {
			return err
		}
		if d.FolderID != nil {
			return r.Folders.AdjustCounters(ctx, *d.FolderID, -1, 0)
		}
		return nil
	})
	if err != nil {
		return translate(err)
	}
	s.logger.Info("Документ удалён", slog.String("id", id))
	return nil
}

// ListVersions возвращает версии документа, новые первыми.
func (s *KnowledgeService) ListVersions(ctx context.Context, actor Actor, id string) ([]*model.DocumentVersion, error) {
	if _, err := s.document(ctx, actor, id, rbac.PermKnowledgeRead); err != nil {
		return nil, err
	}
	vs, err := s.store.Repos().Documents.ListVersions(ctx, id)
	return vs, translate(err)
}

// CompareVersions сравнивает версии from и to документа.
// to = 0 - текущая версия, from = 0 - предыдущая перед to.
func (s *KnowledgeService) CompareVersions(ctx context.Context, actor Actor, id string, from, to int) (*VersionComparison, error) {
	d, err := s.document(ctx, actor, id, rbac.PermKnowledgeRead)
	if err != nil {
		return nil, err
	}
	if to == 0 {
		to = d.Version
	}
	if from == 0 {
		from = max(to-1, 1)
	}
	if from < 1 || to < 1 {
		return nil, validationf("номера версий начинаются с 1")
	}

	repo := s.store.Repos().Documents
	oldV, err := repo.GetVersion(ctx, id, from)
	if err != nil {
		return nil, translate(err)
	}
	newV, err := repo.GetVersion(ctx, id, to)
	if err != nil {
		return nil, translate(err)
	}

	cmp, err := diff.Compare(oldV.Content, newV.Content, diff.Labels{
		Old: fmt.Sprintf("%s (v%d)", oldV.Title, from),
		New: fmt.Sprintf("%s (v%d)", newV.Title, to),
	})
	if err != nil {
		return nil, err
	}

	suggestions, err := s.suggestions.Suggest(ctx, cmp)
	if err != nil {
		s.logger.Warn("Подсказки к сравнению недоступны",
			slog.String("document_id", id),
			slog.String("error", err.Error()),
		)
		suggestions = []diff.Suggestion{}
	}

	return &VersionComparison{
		DocumentID:  id,
		From:        from,
		To:          to,
		Comparison:  cmp,
		Suggestions: suggestions,
	}, nil
}
