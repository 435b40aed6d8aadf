package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/project-assistant/internal/domain/model"
)

// FolderListFilter - фильтр плоского списка папок.
type FolderListFilter struct {
	// ParentID - только дети указанной папки
	ParentID *string
	// RootOnly - только папки верхнего уровня (ParentID игнорируется)
	RootOnly bool
}

// FolderDepth - папка и её глубина относительно начала обхода.
type FolderDepth struct {
	Folder *model.KnowledgeFolder
	Depth  int
}

// FolderRepository - папки базы знаний.
// Обход иерархии - рекурсивные CTE с ограничением глубины и защитой от циклов.
type FolderRepository interface {
	Create(ctx context.Context, f *model.KnowledgeFolder) error
	// GetByID возвращает папку проекта; папка другого проекта - ErrNotFound.
	GetByID(ctx context.Context, projectID, id string) (*model.KnowledgeFolder, error)
	// List возвращает плоский список папок проекта по имени.
	List(ctx context.Context, projectID string, f FolderListFilter) ([]*model.KnowledgeFolder, error)
	// ListTree обходит дерево от корней проекта не глубже maxDepth.
	ListTree(ctx context.Context, projectID string, maxDepth int) ([]FolderDepth, error)
	// Descendants возвращает потомков папки (без неё самой) не глубже maxDepth.
	Descendants(ctx context.Context, id string, maxDepth int) ([]FolderDepth, error)
	// Depth возвращает глубину папки (корень - 1). Обход предков ограничен maxDepth+1 шагами.
	Depth(ctx context.Context, id string, maxDepth int) (int, error)
	// Update сохраняет имя, описание, родителя и путь.
	Update(ctx context.Context, f *model.KnowledgeFolder) error
	// RewritePaths заменяет префикс пути oldPrefix на newPrefix у потомков папки.
	RewritePaths(ctx context.Context, projectID, oldPrefix, newPrefix string) (int64, error)
	// AdjustCounters изменяет денормализованные счётчики на дельты.
	AdjustCounters(ctx context.Context, id string, documents, subfolders int) error
	// IsEmpty проверяет отсутствие дочерних папок и документов по строкам таблиц.
	IsEmpty(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) error
	// Recount пересчитывает счётчики папок проекта и возвращает исправленные.
	Recount(ctx context.Context, projectID string) ([]model.FolderCounts, error)
}

type folderRepo struct {
	db DBTX
}

// NewFolderRepository создаёт репозиторий папок.
func NewFolderRepository(db DBTX) FolderRepository {
	return &folderRepo{db: db}
}

const folderColumns = `id, project_id, name, description, path, parent_folder_id, created_by,
	document_count, subfolder_count, created_at, updated_at`

// folderColumnsF - те же колонки с псевдонимом f для запросов с JOIN.
const folderColumnsF = `f.id, f.project_id, f.name, f.description, f.path, f.parent_folder_id, f.created_by,
	f.document_count, f.subfolder_count, f.created_at, f.updated_at`

func scanFolder(row pgx.Row, extra ...any) (*model.KnowledgeFolder, error) {
	f := &model.KnowledgeFolder{}
	dest := []any{
		&f.ID, &f.ProjectID, &f.Name, &f.Description, &f.Path, &f.ParentFolderID, &f.CreatedBy,
		&f.DocumentCount, &f.SubfolderCount, &f.CreatedAt, &f.UpdatedAt,
	}
	err := row.Scan(append(dest, extra...)...)
	return f, err
}

func (r *folderRepo) Create(ctx context.Context, f *model.KnowledgeFolder) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	query := `
		INSERT INTO knowledge_folders (id, project_id, name, description, path, parent_folder_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING document_count, subfolder_count, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		f.ID, f.ProjectID, f.Name, f.Description, f.Path, f.ParentFolderID, f.CreatedBy,
	).Scan(&f.DocumentCount, &f.SubfolderCount, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: папка %q уже существует на этом уровне", ErrConflict, f.Name)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: проект или родительская папка не существует", ErrNotFound)
		}
		return fmt.Errorf("ошибка создания папки: %w", err)
	}
	return nil
}

func (r *folderRepo) GetByID(ctx context.Context, projectID, id string) (*model.KnowledgeFolder, error) {
	query := fmt.Sprintf(`SELECT %s FROM knowledge_folders WHERE id = $1 AND project_id = $2`, folderColumns)
	f, err := scanFolder(r.db.QueryRow(ctx, query, id, projectID))
	if err != nil {
		return nil, notFoundOr(err, "ошибка получения папки")
	}
	return f, nil
}

func (r *folderRepo) List(ctx context.Context, projectID string, filter FolderListFilter) ([]*model.KnowledgeFolder, error) {
	where := "project_id = $1"
	args := []any{projectID}
	switch {
	case filter.RootOnly:
		where += " AND parent_folder_id IS NULL"
	case filter.ParentID != nil:
		where += " AND parent_folder_id = $2"
		args = append(args, *filter.ParentID)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM knowledge_folders
		WHERE %s
		ORDER BY LOWER(name), id`, folderColumns, where)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, notFoundOr(err, "ошибка получения папок")
	}
	defer rows.Close()

	result := make([]*model.KnowledgeFolder, 0)
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования папки: %w", err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

// treeQuery - обход от корней проекта. visited защищает от циклов,
// depth - от слишком глубоких веток.
const treeQuery = `
	WITH RECURSIVE tree AS (
		SELECT f.id, 1 AS depth, ARRAY[f.id] AS visited
		FROM knowledge_folders f
		WHERE f.project_id = $1 AND f.parent_folder_id IS NULL
		UNION ALL
		SELECT c.id, t.depth + 1, t.visited || c.id
		FROM knowledge_folders c
		JOIN tree t ON c.parent_folder_id = t.id
		WHERE t.depth < $2 AND NOT c.id = ANY(t.visited)
	)
	SELECT %s, t.depth
	FROM tree t JOIN knowledge_folders f ON f.id = t.id
	ORDER BY t.depth, LOWER(f.name)`

func (r *folderRepo) ListTree(ctx context.Context, projectID string, maxDepth int) ([]FolderDepth, error) {
	return r.queryDepths(ctx, fmt.Sprintf(treeQuery, folderColumnsF), projectID, maxDepth)
}

const descendantsQuery = `
	WITH RECURSIVE sub AS (
		SELECT c.id, 1 AS depth, ARRAY[$1::uuid, c.id] AS visited
		FROM knowledge_folders c
		WHERE c.parent_folder_id = $1
		UNION ALL
		SELECT c.id, s.depth + 1, s.visited || c.id
		FROM knowledge_folders c
		JOIN sub s ON c.parent_folder_id = s.id
		WHERE s.depth < $2 AND NOT c.id = ANY(s.visited)
	)
	SELECT %s, s.depth
	FROM sub s JOIN knowledge_folders f ON f.id = s.id
	ORDER BY s.depth`

func (r *folderRepo) Descendants(ctx context.Context, id string, maxDepth int) ([]FolderDepth, error) {
	return r.queryDepths(ctx, fmt.Sprintf(descendantsQuery, folderColumnsF), id, maxDepth)
}

func (r *folderRepo) queryDepths(ctx context.Context, query string, args ...any) ([]FolderDepth, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, notFoundOr(err, "ошибка обхода дерева папок")
	}
	defer rows.Close()

	var result []FolderDepth
	for rows.Next() {
		var depth int
		f, err := scanFolder(rows, &depth)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования папки: %w", err)
		}
		result = append(result, FolderDepth{Folder: f, Depth: depth})
	}
	return result, rows.Err()
}

func (r *folderRepo) Depth(ctx context.Context, id string, maxDepth int) (int, error) {
	var depth int
	err := r.db.QueryRow(ctx, `
		WITH RECURSIVE up AS (
			SELECT f.id, f.parent_folder_id, 1 AS depth
			FROM knowledge_folders f WHERE f.id = $1
			UNION ALL
			SELECT p.id, p.parent_folder_id, u.depth + 1
			FROM knowledge_folders p
			JOIN up u ON p.id = u.parent_folder_id
			WHERE u.depth <= $2
		)
		SELECT COALESCE(MAX(depth), 0) FROM up`, id, maxDepth).Scan(&depth)
	if err != nil {
		return 0, notFoundOr(err, "ошибка вычисления глубины папки")
	}
	if depth == 0 {
		return 0, ErrNotFound
	}
	return depth, nil
}

func (r *folderRepo) Update(ctx context.Context, f *model.KnowledgeFolder) error {
	err := r.db.QueryRow(ctx, `
		UPDATE knowledge_folders
		SET name = $2, description = $3, parent_folder_id = $4, path = $5
		WHERE id = $1
		RETURNING updated_at`,
		f.ID, f.Name, f.Description, f.ParentFolderID, f.Path,
	).Scan(&f.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: папка %q уже существует на этом уровне", ErrConflict, f.Name)
		}
		return notFoundOr(err, "ошибка обновления папки")
	}
	return nil
}

func (r *folderRepo) RewritePaths(ctx context.Context, projectID, oldPrefix, newPrefix string) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE knowledge_folders
		SET path = $3::text || SUBSTRING(path FROM LENGTH($2::text) + 1)
		WHERE project_id = $1 AND LEFT(path, LENGTH($2::text) + 1) = $2::text || '/'`,
		projectID, oldPrefix, newPrefix)
	if err != nil {
		return 0, fmt.Errorf("ошибка обновления путей папок: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *folderRepo) AdjustCounters(ctx context.Context, id string, documents, subfolders int) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE knowledge_folders
		SET document_count = document_count + $2, subfolder_count = subfolder_count + $3
		WHERE id = $1`, id, documents, subfolders)
	if err != nil {
		return fmt.Errorf("ошибка обновления счётчиков папки: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *folderRepo) IsEmpty(ctx context.Context, id string) (bool, error) {
	var busy bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM knowledge_folders WHERE parent_folder_id = $1)
		    OR EXISTS (SELECT 1 FROM knowledge_documents WHERE folder_id = $1)`, id).Scan(&busy)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки содержимого папки: %w", err)
	}
	return !busy, nil
}

func (r *folderRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM knowledge_folders WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: папка не пуста", ErrConflict)
		}
		return fmt.Errorf("ошибка удаления папки: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *folderRepo) Recount(ctx context.Context, projectID string) ([]model.FolderCounts, error) {
	rows, err := r.db.Query(ctx, `
		WITH actual AS (
			SELECT f.id,
				(SELECT COUNT(*) FROM knowledge_documents d WHERE d.folder_id = f.id) AS documents,
				(SELECT COUNT(*) FROM knowledge_folders c WHERE c.parent_folder_id = f.id) AS subfolders
			FROM knowledge_folders f
			WHERE f.project_id = $1
		)
		UPDATE knowledge_folders f
		SET document_count = a.documents, subfolder_count = a.subfolders
		FROM actual a
		WHERE f.id = a.id
		  AND (f.document_count <> a.documents OR f.subfolder_count <> a.subfolders)
		RETURNING f.id, f.document_count, f.subfolder_count`, projectID)
	if err != nil {
		return nil, notFoundOr(err, "ошибка пересчёта счётчиков")
	}
	defer rows.Close()

	result := make([]model.FolderCounts, 0)
	for rows.Next() {
		var c model.FolderCounts
		if err := rows.Scan(&c.FolderID, &c.DocumentCount, &c.SubfolderCount); err != nil {
			return nil, fmt.Errorf("ошибка сканирования счётчиков: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}
