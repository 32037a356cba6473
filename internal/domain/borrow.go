package domain

import (
	"context"
	"time"
)

// BorrowRecord is one loan episode. ReturnedAt == nil means the loan is active.
type BorrowRecord struct {
	ID         int64      `db:"id" json:"id"`
	UserID     int64      `db:"user_id" json:"user_id"`
	BookID     int64      `db:"book_id" json:"book_id"`
	BorrowedAt time.Time  `db:"borrowed_at" json:"borrowed_at"`
	ReturnedAt *time.Time `db:"returned_at" json:"returned_at"`
}

// Active reports whether the loan is still open
func (r *BorrowRecord) Active() bool {
	return r.ReturnedAt == nil
}

// BorrowRepository is the coordinator's authoritative store of loans
type BorrowRepository interface {
	// Create inserts the record after making sure shadow rows for the user and
	// book exist, all in one transaction.
	Create(ctx context.Context, record *BorrowRecord, user *User, book *Book) error
	GetByID(ctx context.Context, id int64) (*BorrowRecord, error)
	FindActiveByBook(ctx context.Context, bookID int64) (*BorrowRecord, error)
	// CloseActive locks the latest active record for the pair, runs
	// beforeClose while holding the lock and then sets returned_at. Concurrent
	// closes of the same record are serialized; the loser sees ErrNoActiveLoan
	// without running beforeClose. An error from beforeClose is returned as is
	// and leaves the record open.
	CloseActive(ctx context.Context, bookID, userID int64, returnedAt time.Time, beforeClose func(ctx context.Context, active *BorrowRecord) error) (*BorrowRecord, error)
	ListByUser(ctx context.Context, userID int64) ([]*BorrowRecord, error)
	ListActive(ctx context.Context) ([]*BorrowRecord, error)
}

// LoanShadowRepository keeps a directory's local copy of loan records pushed
// by the coordinator.
type LoanShadowRepository interface {
	Upsert(ctx context.Context, record *BorrowRecord) error
	ListByUser(ctx context.Context, userID int64) ([]*BorrowRecord, error)
}

// IdempotencyRepository remembers the outcome of borrow attempts by key
type IdempotencyRepository interface {
	// Claim reserves key. It returns claimed=false together with the stored
	// record ID (0 while the first attempt is still running) when the key was
	// already taken.
	Claim(ctx context.Context, key string) (claimed bool, recordID int64, err error)
	Complete(ctx context.Context, key string, recordID int64) error
	Release(ctx context.Context, key string) error
}
