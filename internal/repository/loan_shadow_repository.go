package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Masterminds/squirrel"

	"github.com/rfichi/borrowed-book-api/internal/domain"
	"github.com/rfichi/borrowed-book-api/pkg/database"
)

// Shadow loan tables
const (
	UserLoansTable = "user_loans"
	BookLoansTable = "book_loans"
)

const loanColumns = "id, user_id, book_id, borrowed_at, returned_at"

// LoanShadowRepository stores a directory's copy of loan records
type LoanShadowRepository struct {
	pool   *database.ConnectionPool
	table  string
	logger *slog.Logger
}

// NewLoanShadowRepository creates a repository over one of the shadow tables
func NewLoanShadowRepository(pool *database.ConnectionPool, table string, logger *slog.Logger) *LoanShadowRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoanShadowRepository{pool: pool, table: table, logger: logger}
}

// Upsert inserts the record or refreshes its timestamps. A closed loan stays
// closed: a late copy without returned_at does not clear it.
func (r *LoanShadowRepository) Upsert(ctx context.Context, record *domain.BorrowRecord) error {
	query, args, err := psql.Insert(r.table).
		Columns("id", "user_id", "book_id", "borrowed_at", "returned_at").
		Values(record.ID, record.UserID, record.BookID, record.BorrowedAt, record.ReturnedAt).
		Suffix(fmt.Sprintf("ON CONFLICT (id) DO UPDATE SET borrowed_at = EXCLUDED.borrowed_at, "+
			"returned_at = COALESCE(EXCLUDED.returned_at, %s.returned_at)", r.table)).
		ToSql()
	if err != nil {
		return err
	}

	if _, err := r.pool.GetDB().ExecContext(ctx, query, args...); err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return fmt.Errorf("owner of loan %d: %w", record.ID, domain.ErrNotFound)
		}
		r.logger.Error("failed to upsert loan",
			slog.String("table", r.table),
			slog.Int64("record_id", record.ID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to upsert loan: %w", err)
	}
	return nil
}

// ListByUser returns a user's loans, most recent first
func (r *LoanShadowRepository) ListByUser(ctx context.Context, userID int64) ([]*domain.BorrowRecord, error) {
	query, args, err := psql.Select(loanColumns).From(r.table).
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("borrowed_at DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, err
	}

	records := []*domain.BorrowRecord{}
	if err := r.pool.GetDB().SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	return records, nil
}
