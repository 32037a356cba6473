package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/rfichi/borrowed-book-api/internal/domain"
	"github.com/rfichi/borrowed-book-api/pkg/database"
)

// PostgresBorrowRepository implements domain.BorrowRepository using PostgreSQL
type PostgresBorrowRepository struct {
	pool   *database.ConnectionPool
	logger *slog.Logger
}

// NewPostgresBorrowRepository creates a new borrow record repository
func NewPostgresBorrowRepository(pool *database.ConnectionPool, logger *slog.Logger) *PostgresBorrowRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresBorrowRepository{pool: pool, logger: logger}
}

// Create writes the shadow user and book rows and the record in one transaction
func (r *PostgresBorrowRepository) Create(ctx context.Context, record *domain.BorrowRecord, user *domain.User, book *domain.Book) error {
	err := r.pool.InTx(ctx, func(tx *sqlx.Tx) error {
		query, args, err := psql.Insert("users").
			Columns("id", "name", "email").
			Values(user.ID, user.Name, user.Email).
			Suffix("ON CONFLICT (id) DO NOTHING").
			ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("shadow user: %w", err)
		}

		query, args, err = psql.Insert("books").
			Columns("id", "title", "author", "published_year").
			Values(book.ID, book.Title, book.Author, book.PublishedYear).
			Suffix("ON CONFLICT (id) DO NOTHING").
			ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("shadow book: %w", err)
		}

		query, args, err = psql.Insert("borrow_records").
			Columns("user_id", "book_id", "borrowed_at").
			Values(record.UserID, record.BookID, record.BorrowedAt).
			Suffix("RETURNING id").
			ToSql()
		if err != nil {
			return err
		}
		return tx.QueryRowxContext(ctx, query, args...).Scan(&record.ID)
	})
	if err != nil {
		r.logger.Error("failed to create borrow record",
			slog.Int64("book_id", record.BookID),
			slog.Int64("user_id", record.UserID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to create borrow record: %w", err)
	}
	return nil
}

// GetByID retrieves a record by ID
func (r *PostgresBorrowRepository) GetByID(ctx context.Context, id int64) (*domain.BorrowRecord, error) {
	return r.first(ctx, psql.Select(loanColumns).From("borrow_records").Where(squirrel.Eq{"id": id}), domain.ErrRecordNotFound)
}

// FindActive returns the latest unreturned record for the book and user
func (r *PostgresBorrowRepository) FindActive(ctx context.Context, bookID, userID int64) (*domain.BorrowRecord, error) {
	q := psql.Select(loanColumns).From("borrow_records").
		Where(squirrel.Eq{"book_id": bookID, "user_id": userID, "returned_at": nil}).
		OrderBy("borrowed_at DESC", "id DESC").
		Limit(1)
	return r.first(ctx, q, domain.ErrNoActiveLoan)
}

// FindActiveByBook returns the latest unreturned record for the book
func (r *PostgresBorrowRepository) FindActiveByBook(ctx context.Context, bookID int64) (*domain.BorrowRecord, error) {
	q := psql.Select(loanColumns).From("borrow_records").
		Where(squirrel.Eq{"book_id": bookID, "returned_at": nil}).
		OrderBy("borrowed_at DESC", "id DESC").
		Limit(1)
	return r.first(ctx, q, domain.ErrNoActiveLoan)
}

func (r *PostgresBorrowRepository) first(ctx context.Context, q squirrel.SelectBuilder, notFound error) (*domain.BorrowRecord, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	record := &domain.BorrowRecord{}
	if err := r.pool.GetDB().GetContext(ctx, record, query, args...); err != nil {
		if isNoRows(err) {
			return nil, notFound
		}
		return nil, fmt.Errorf("failed to get borrow record: %w", err)
	}
	return record, nil
}

// CloseActive closes the pair's latest active record. The row stays locked
// (SELECT ... FOR UPDATE) while beforeClose runs, so a duplicate return waits
// and then finds nothing to close.
func (r *PostgresBorrowRepository) CloseActive(
	ctx context.Context,
	bookID, userID int64,
	returnedAt time.Time,
	beforeClose func(ctx context.Context, active *domain.BorrowRecord) error,
) (*domain.BorrowRecord, error) {
	closed := &domain.BorrowRecord{}
	err := r.pool.InTx(ctx, func(tx *sqlx.Tx) error {
		query, args, err := psql.Select(loanColumns).From("borrow_records").
			Where(squirrel.Eq{"book_id": bookID, "user_id": userID, "returned_at": nil}).
			OrderBy("borrowed_at DESC", "id DESC").
			Limit(1).
			Suffix("FOR UPDATE").
			ToSql()
		if err != nil {
			return err
		}
		active := &domain.BorrowRecord{}
		if err := tx.GetContext(ctx, active, query, args...); err != nil {
			if isNoRows(err) {
				return domain.ErrNoActiveLoan
			}
			return fmt.Errorf("lock active borrow record: %w", err)
		}

		if err := beforeClose(ctx, active); err != nil {
			return err
		}

		query, args, err = psql.Update("borrow_records").
			Set("returned_at", returnedAt).
			Where(squirrel.Eq{"id": active.ID}).
			Suffix("RETURNING " + loanColumns).
			ToSql()
		if err != nil {
			return err
		}
		if err := tx.GetContext(ctx, closed, query, args...); err != nil {
			r.logger.Error("failed to close borrow record", slog.Int64("record_id", active.ID), slog.String("error", err.Error()))
			return fmt.Errorf("failed to close borrow record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

// ListByUser returns a user's records, most recent first
func (r *PostgresBorrowRepository) ListByUser(ctx context.Context, userID int64) ([]*domain.BorrowRecord, error) {
	return r.list(ctx, psql.Select(loanColumns).From("borrow_records").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("borrowed_at DESC", "id DESC"))
}

// ListActive returns every unreturned record ordered by id
func (r *PostgresBorrowRepository) ListActive(ctx context.Context) ([]*domain.BorrowRecord, error) {
	return r.list(ctx, psql.Select(loanColumns).From("borrow_records").
		Where(squirrel.Eq{"returned_at": nil}).
		OrderBy("id ASC"))
}

func (r *PostgresBorrowRepository) list(ctx context.Context, q squirrel.SelectBuilder) ([]*domain.BorrowRecord, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	records := []*domain.BorrowRecord{}
	if err := r.pool.GetDB().SelectContext(ctx, &records, query, args...); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		r.logger.Error("failed to list borrow records", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to list borrow records: %w", err)
	}
	return records, nil
}
