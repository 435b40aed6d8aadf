package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/project-assistant/internal/domain/model"
)

// DocumentRepository - документы базы знаний и их версии.
type DocumentRepository interface {
	// Create сохраняет документ и его первую версию.
	Create(ctx context.Context, d *model.KnowledgeDocument) error
	GetByID(ctx context.Context, id string) (*model.KnowledgeDocument, error)
	List(ctx context.Context, f model.DocumentFilter) ([]*model.KnowledgeDocument, error)
	// Update сохраняет изменения и новую версию; d.Version увеличивается на 1.
	// expectedVersion защищает от потерянных обновлений: при несовпадении - ErrConflict.
	Update(ctx context.Context, d *model.KnowledgeDocument, expectedVersion int) error
	Delete(ctx context.Context, id string) error
	ListVersions(ctx context.Context, documentID string) ([]*model.DocumentVersion, error)
	GetVersion(ctx context.Context, documentID string, version int) (*model.DocumentVersion, error)
}

type documentRepo struct {
	db DBTX
}

// NewDocumentRepository создаёт репозиторий документов.
func NewDocumentRepository(db DBTX) DocumentRepository {
	return &documentRepo{db: db}
}

const documentColumns = `id, project_id, folder_id, title, content, file_name, file_type,
	size_bytes, tags, author_id, version, created_at, updated_at`

func scanDocument(row pgx.Row) (*model.KnowledgeDocument, error) {
	d := &model.KnowledgeDocument{}
	err := row.Scan(
		&d.ID, &d.ProjectID, &d.FolderID, &d.Title, &d.Content, &d.FileName, &d.FileType,
		&d.SizeBytes, &d.Tags, &d.AuthorID, &d.Version, &d.CreatedAt, &d.UpdatedAt,
	)
	return d, err
}

func (r *documentRepo) Create(ctx context.Context, d *model.KnowledgeDocument) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Tags == nil {
		d.Tags = []string{}
	}
	d.Version = 1
	d.SizeBytes = int64(len(d.Content))

	err := r.db.QueryRow(ctx, `
		INSERT INTO knowledge_documents (id, project_id, folder_id, title, content, file_name, file_type,
			size_bytes, tags, author_id, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`,
		d.ID, d.ProjectID, d.FolderID, d.Title, d.Content, d.FileName, d.FileType,
		d.SizeBytes, d.Tags, d.AuthorID, d.Version,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: проект или папка не существует", ErrNotFound)
		}
		return fmt.Errorf("ошибка создания документа: %w", err)
	}

	return r.insertVersion(ctx, d)
}

func (r *documentRepo) insertVersion(ctx context.Context, d *model.KnowledgeDocument) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO knowledge_document_versions (document_id, version, title, content, author_id)
		VALUES ($1, $2, $3, $4, $5)`,
		d.ID, d.Version, d.Title, d.Content, d.AuthorID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: версия %d уже существует", ErrConflict, d.Version)
		}
		return fmt.Errorf("ошибка сохранения версии документа: %w", err)
	}
	return nil
}

func (r *documentRepo) GetByID(ctx context.Context, id string) (*model.KnowledgeDocument, error) {
	query := fmt.Sprintf(`SELECT %s FROM knowledge_documents WHERE id = $1`, documentColumns)
	d, err := scanDocument(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFoundOr(err, "ошибка получения документа")
	}
	return d, nil
}

func (r *documentRepo) List(ctx context.Context, f model.DocumentFilter) ([]*model.KnowledgeDocument, error) {
	conditions := []string{"project_id = $1"}
	args := []any{f.ProjectID}
	argNum := 2

	if f.RootOnly {
		conditions = append(conditions, "folder_id IS NULL")
	} else if f.FolderID != nil {
		conditions = append(conditions, fmt.Sprintf("folder_id = $%d", argNum))
		args = append(args, *f.FolderID)
		argNum++
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		conditions = append(conditions, fmt.Sprintf(
			"(title ILIKE $%d OR content ILIKE $%d OR $%d = ANY(tags))", argNum, argNum, argNum+1))
		args = append(args, "%"+escapeLike(s)+"%", s)
		argNum += 2
	}
	if ft := strings.TrimSpace(f.FileType); ft != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(file_type) = LOWER($%d)", argNum))
		args = append(args, strings.TrimPrefix(ft, "."))
		argNum++
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT %s FROM knowledge_documents
		WHERE %s
		ORDER BY updated_at DESC, id
		LIMIT $%d OFFSET $%d`, documentColumns, strings.Join(conditions, " AND "), argNum, argNum+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, notFoundOr(err, "ошибка получения документов")
	}
	defer rows.Close()

	result := make([]*model.KnowledgeDocument, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования документа: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (r *documentRepo) Update(ctx context.Context, d *model.KnowledgeDocument, expectedVersion int) error {
	if d.Tags == nil {
		d.Tags = []string{}
	}
	d.SizeBytes = int64(len(d.Content))

	err := r.db.QueryRow(ctx, `
		UPDATE knowledge_documents
		SET title = $2, content = $3, folder_id = $4, tags = $5, size_bytes = $6,
			author_id = $7, version = version + 1
		WHERE id = $1 AND version = $8
		RETURNING version, updated_at`,
		d.ID, d.Title, d.Content, d.FolderID, d.Tags, d.SizeBytes, d.AuthorID, expectedVersion,
	).Scan(&d.Version, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: документ изменён другим запросом", ErrConflict)
		}
		return fmt.Errorf("ошибка обновления документа: %w", err)
	}

	return r.insertVersion(ctx, d)
}

func (r *documentRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM knowledge_documents WHERE id = $1`, id)
	if err != nil {
		return notFoundOr(err, "ошибка удаления документа")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *documentRepo) ListVersions(ctx context.Context, documentID string) ([]*model.DocumentVersion, error) {
	rows, err := r.db.Query(ctx, `
		SELECT document_id, version, title, content, author_id, created_at
		FROM knowledge_document_versions
		WHERE document_id = $1
		ORDER BY version DESC`, documentID)
	if err != nil {
		return nil, notFoundOr(err, "ошибка получения версий документа")
	}
	defer rows.Close()

	result := make([]*model.DocumentVersion, 0)
	for rows.Next() {
		v := &model.DocumentVersion{}
		if err := rows.Scan(&v.DocumentID, &v.Version, &v.Title, &v.Content, &v.AuthorID, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования версии: %w", err)
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

func (r *documentRepo) GetVersion(ctx context.Context, documentID string, version int) (*model.DocumentVersion, error) {
	v := &model.DocumentVersion{}
	err := r.db.QueryRow(ctx, `
		SELECT document_id, version, title, content, author_id, created_at
		FROM knowledge_document_versions
		WHERE document_id = $1 AND version = $2`, documentID, version,
	).Scan(&v.DocumentID, &v.Version, &v.Title, &v.Content, &v.AuthorID, &v.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err, "ошибка получения версии документа")
	}
	return v, nil
}

// escapeLike экранирует спецсимволы шаблона LIKE.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
