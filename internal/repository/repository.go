// Пакет repository - слой доступа к данным PostgreSQL.
// Все запросы - чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound - запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict - конфликт уникальности или состояния.
	ErrConflict = errors.New("конфликт — запись уже существует")
)

// DBTX - интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn - транзакция откатывается.
// При успехе - коммитится.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита - no-op

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Repos - набор репозиториев поверх одного DBTX (пула или транзакции).
type Repos struct {
	Users          UserRepository
	Projects       ProjectRepository
	Notifications  NotificationRepository
	Folders        FolderRepository
	Documents      DocumentRepository
	Submissions    SubmissionRepository
	EmailTemplates EmailTemplateRepository
	AuthTokens     AuthTokenRepository
}

// NewRepos создаёт все репозитории поверх db.
func NewRepos(db DBTX) *Repos {
	return &Repos{
		Users:          NewUserRepository(db),
		Projects:       NewProjectRepository(db),
		Notifications:  NewNotificationRepository(db),
		Folders:        NewFolderRepository(db),
		Documents:      NewDocumentRepository(db),
		Submissions:    NewSubmissionRepository(db),
		EmailTemplates: NewEmailTemplateRepository(db),
		AuthTokens:     NewAuthTokenRepository(db),
	}
}

// Store - точка доступа сервисов к данным: репозитории вне транзакции
// и выполнение нескольких операций в одной транзакции.
type Store interface {
	// Repos возвращает репозитории, работающие через пул.
	Repos() *Repos
	// InTx выполняет fn с репозиториями, привязанными к одной транзакции.
	InTx(ctx context.Context, fn func(r *Repos) error) error
}

// pgStore - реализация Store поверх pgxpool.
type pgStore struct {
	repos *Repos
	tx    *TxRunner
}

// NewStore создаёт Store поверх пула подключений.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{
		repos: NewRepos(pool),
		tx:    NewTxRunner(pool),
	}
}

func (s *pgStore) Repos() *Repos {
	return s.repos
}

func (s *pgStore) InTx(ctx context.Context, fn func(r *Repos) error) error {
	return s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		return fn(NewRepos(tx))
	})
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// isForeignKeyViolation проверяет нарушение внешнего ключа.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503" // foreign_key_violation
	}
	return false
}

// notFoundOr возвращает ErrNotFound для pgx.ErrNoRows и некорректного UUID,
// иначе оборачивает err.
func notFoundOr(err error, msg string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "22P02" { // invalid_text_representation
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", msg, err)
}
