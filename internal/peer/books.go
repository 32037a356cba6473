package peer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rfichi/borrowed-book-api/internal/domain"
)

// AvailabilityUpdate is the body of PATCH /books/{id}/availability.
// ExpectedAvailable turns the update into a compare-and-swap.
type AvailabilityUpdate struct {
	IsAvailable       bool  `json:"is_available"`
	ExpectedAvailable *bool `json:"expected_available,omitempty"`
}

// BooksClient talks to the books directory
type BooksClient struct {
	c *client
}

// NewBooksClient creates a books directory client
func NewBooksClient(cfg Config, logger *slog.Logger) *BooksClient {
	return &BooksClient{c: newClient("books", cfg, logger)}
}

// GetBook fetches a book
func (b *BooksClient) GetBook(ctx context.Context, bookID int64) (*domain.Book, error) {
	book := &domain.Book{}
	err := b.c.do(ctx, call{
		op:       "get_book",
		method:   http.MethodGet,
		path:     fmt.Sprintf("/books/%d", bookID),
		out:      book,
		byStatus: map[int]error{http.StatusNotFound: domain.ErrBookNotFound},
	})
	if err != nil {
		return nil, err
	}
	return book, nil
}

// ValidateBookAvailable fetches the book and fails with
// ErrBookAlreadyBorrowed when it is lent out
func (b *BooksClient) ValidateBookAvailable(ctx context.Context, bookID int64) (*domain.Book, error) {
	book, err := b.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if !book.IsAvailable {
		return nil, domain.ErrBookAlreadyBorrowed
	}
	return book, nil
}

// UpdateAvailability sets the flag. With expected set the directory only
// applies it when the current flag matches; otherwise ErrBookAlreadyBorrowed.
func (b *BooksClient) UpdateAvailability(ctx context.Context, bookID int64, available bool, expected *bool) (*domain.Book, error) {
	book := &domain.Book{}
	byStatus := map[int]error{http.StatusNotFound: domain.ErrBookNotFound}
	if expected != nil {
		byStatus[http.StatusConflict] = domain.ErrBookAlreadyBorrowed
	}
	err := b.c.do(ctx, call{
		op:       "update_availability",
		method:   http.MethodPatch,
		path:     fmt.Sprintf("/books/%d/availability", bookID),
		body:     AvailabilityUpdate{IsAvailable: available, ExpectedAvailable: expected},
		out:      book,
		byStatus: byStatus,
	})
	if err != nil {
		return nil, err
	}
	return book, nil
}

// SyncLoan upserts the book's shadow copy of a loan record
func (b *BooksClient) SyncLoan(ctx context.Context, record *domain.BorrowRecord) error {
	return b.c.do(ctx, call{
		op:       "sync_loan",
		method:   http.MethodPut,
		path:     fmt.Sprintf("/books/%d/loans/%d", record.BookID, record.ID),
		body:     record,
		byStatus: map[int]error{http.StatusNotFound: domain.ErrBookNotFound},
	})
}
