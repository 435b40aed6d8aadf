package model

import "time"

// KnowledgeFolder - папка базы знаний проекта.
// ParentFolderID образует дерево; DocumentCount и SubfolderCount - денормализованные
// счётчики, поддерживаются в той же транзакции, что и вставка/удаление строк.
type KnowledgeFolder struct {
	ID             string
	ProjectID      string
	Name           string
	Description    string
	Path           string
	ParentFolderID *string
	CreatedBy      *string
	DocumentCount  int
	SubfolderCount int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// KnowledgeDocument - документ базы знаний.
type KnowledgeDocument struct {
	ID        string
	ProjectID string
	FolderID  *string
	Title     string
	Content   string
	FileName  string
	FileType  string
	SizeBytes int64
	Tags      []string
	AuthorID  *string
	// Version - номер текущей версии (начинается с 1)
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DocumentVersion - снимок содержимого документа.
type DocumentVersion struct {
	DocumentID string
	Version    int
	Title      string
	Content    string
	AuthorID   *string
	CreatedAt  time.Time
}

// DocumentFilter - параметры выборки документов.
type DocumentFilter struct {
	ProjectID string
	FolderID  *string
	// RootOnly - только документы вне папок (FolderID игнорируется)
	RootOnly bool
	// Search - подстрока в заголовке или содержимом (без учёта регистра)
	Search string
	// FileType - расширение или MIME-подтип (pdf, md, txt …)
	FileType string
	Limit    int
	Offset   int
}

// FolderCounts - пересчитанные значения счётчиков папки.
type FolderCounts struct {
	FolderID       string
	DocumentCount  int
	SubfolderCount int
}
