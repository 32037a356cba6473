package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/rfichi/borrowed-book-api/internal/domain"
	"github.com/rfichi/borrowed-book-api/pkg/database"
)

const bookColumns = "id, title, author, published_year, is_available"

// PostgresBookRepository implements domain.BookRepository using PostgreSQL
type PostgresBookRepository struct {
	pool   *database.ConnectionPool
	logger *slog.Logger
}

// NewPostgresBookRepository creates a new book repository
func NewPostgresBookRepository(pool *database.ConnectionPool, logger *slog.Logger) *PostgresBookRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresBookRepository{pool: pool, logger: logger}
}

// Create inserts a book and fills in its generated id
func (r *PostgresBookRepository) Create(ctx context.Context, book *domain.Book) error {
	query, args, err := psql.Insert("books").
		Columns("title", "author", "published_year", "is_available").
		Values(book.Title, book.Author, book.PublishedYear, book.IsAvailable).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return err
	}

	if err := r.pool.GetDB().QueryRowxContext(ctx, query, args...).Scan(&book.ID); err != nil {
		r.logger.Error("failed to create book",
			slog.String("title", book.Title),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to create book: %w", err)
	}
	return nil
}

// GetByID retrieves a book by ID
func (r *PostgresBookRepository) GetByID(ctx context.Context, id int64) (*domain.Book, error) {
	query, args, err := psql.Select(bookColumns).From("books").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, err
	}

	book := &domain.Book{}
	if err := r.pool.GetDB().GetContext(ctx, book, query, args...); err != nil {
		if isNoRows(err) {
			return nil, domain.ErrBookNotFound
		}
		r.logger.Error("failed to get book", slog.Int64("book_id", id), slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	return book, nil
}

// List returns one page of books ordered by id and the total count
func (r *PostgresBookRepository) List(ctx context.Context, page domain.Page) ([]*domain.Book, int, error) {
	var total int
	if err := r.pool.GetDB().GetContext(ctx, &total, `SELECT COUNT(*) FROM books`); err != nil {
		return nil, 0, fmt.Errorf("failed to count books: %w", err)
	}

	query, args, err := psql.Select(bookColumns).From("books").
		OrderBy("id ASC").
		Limit(uint64(page.Size)).
		Offset(uint64(page.Offset())).
		ToSql()
	if err != nil {
		return nil, 0, err
	}

	books := []*domain.Book{}
	if err := r.pool.GetDB().SelectContext(ctx, &books, query, args...); err != nil {
		r.logger.Error("failed to list books", slog.String("error", err.Error()))
		return nil, 0, fmt.Errorf("failed to list books: %w", err)
	}
	return books, total, nil
}

// Delete removes the book's shadow loan records and then the book
func (r *PostgresBookRepository) Delete(ctx context.Context, id int64) error {
	err := r.pool.InTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM book_loans WHERE book_id = $1`, id); err != nil {
			return fmt.Errorf("delete loans: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM books WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete book: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrBookNotFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, domain.ErrBookNotFound) {
		r.logger.Error("failed to delete book", slog.Int64("book_id", id), slog.String("error", err.Error()))
	}
	return err
}

// SetAvailability writes is_available, conditionally when expected is set
func (r *PostgresBookRepository) SetAvailability(ctx context.Context, id int64, available bool, expected *bool) (*domain.Book, error) {
	where := squirrel.Eq{"id": id}
	if expected != nil {
		where["is_available"] = *expected
	}

	query, args, err := psql.Update("books").
		Set("is_available", available).
		Where(where).
		Suffix("RETURNING " + bookColumns).
		ToSql()
	if err != nil {
		return nil, err
	}

	book := &domain.Book{}
	err = r.pool.GetDB().GetContext(ctx, book, query, args...)
	if err == nil {
		return book, nil
	}
	if !isNoRows(err) {
		r.logger.Error("failed to update availability", slog.Int64("book_id", id), slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to update availability: %w", err)
	}
	if expected == nil {
		return nil, domain.ErrBookNotFound
	}

	// zero rows under a condition: either the book is gone or the flag moved
	var exists bool
	if err := r.pool.GetDB().GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM books WHERE id = $1)`, id); err != nil {
		return nil, fmt.Errorf("failed to check book: %w", err)
	}
	if !exists {
		return nil, domain.ErrBookNotFound
	}
	return nil, domain.ErrAvailabilityMismatch
}
