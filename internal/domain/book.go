package domain

import "context"

// Book is owned by the books directory. IsAvailable is the flag the borrow
// coordinator toggles.
type Book struct {
	ID            int64  `db:"id" json:"id"`
	Title         string `db:"title" json:"title"`
	Author        string `db:"author" json:"author"`
	PublishedYear int    `db:"published_year" json:"published_year"`
	IsAvailable   bool   `db:"is_available" json:"is_available"`
}

// BookRepository defines data access for books
type BookRepository interface {
	Create(ctx context.Context, book *Book) error
	GetByID(ctx context.Context, id int64) (*Book, error)
	List(ctx context.Context, page Page) ([]*Book, int, error)
	// Delete removes the book together with its shadow loan records.
	Delete(ctx context.Context, id int64) error
	// SetAvailability overwrites the flag. When expected is non-nil the write
	// only happens if the stored flag equals *expected; otherwise
	// ErrAvailabilityMismatch is returned and nothing changes.
	SetAvailability(ctx context.Context, id int64, available bool, expected *bool) (*Book, error)
}
