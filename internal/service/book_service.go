package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/rfichi/borrowed-book-api/internal/domain"
)

// BookService serves the books directory
type BookService struct {
	books  domain.BookRepository
	loans  domain.LoanShadowRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewBookService creates a new book service
func NewBookService(books domain.BookRepository, loans domain.LoanShadowRepository, logger *slog.Logger) *BookService {
	return &BookService{books: books, loans: loans, logger: logger, now: time.Now}
}

// Create adds an available book
func (s *BookService) Create(ctx context.Context, title, author string, publishedYear int) (*domain.Book, error) {
	title = strings.TrimSpace(title)
	author = strings.TrimSpace(author)
	if title == "" {
		return nil, domain.NewValidationError("title", "must not be blank")
	}
	if author == "" {
		return nil, domain.NewValidationError("author", "must not be blank")
	}
	if publishedYear < 0 {
		return nil, domain.NewValidationError("published_year", "must not be negative")
	}
	if publishedYear > s.now().UTC().Year() {
		return nil, domain.NewValidationError("published_year", "cannot be in the future")
	}

	book := &domain.Book{Title: title, Author: author, PublishedYear: publishedYear, IsAvailable: true}
	if err := s.books.Create(ctx, book); err != nil {
		return nil, err
	}
	s.logger.Info("book created", slog.Int64("book_id", book.ID), slog.String("title", book.Title))
	return book, nil
}

func (s *BookService) Get(ctx context.Context, id int64) (*domain.Book, error) {
	return s.books.GetByID(ctx, id)
}

func (s *BookService) List(ctx context.Context, page domain.Page) ([]*domain.Book, int, error) {
	return s.books.List(ctx, page)
}

// Delete removes the book and its shadow loan records
func (s *BookService) Delete(ctx context.Context, id int64) error {
	if err := s.books.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("book deleted", slog.Int64("book_id", id))
	return nil
}

// SetAvailability overwrites the flag, or compares-and-swaps it when
// expected is non-nil
func (s *BookService) SetAvailability(ctx context.Context, id int64, available bool, expected *bool) (*domain.Book, error) {
	book, err := s.books.SetAvailability(ctx, id, available, expected)
	if err != nil {
		return nil, err
	}
	s.logger.Info("book availability updated",
		slog.Int64("book_id", id),
		slog.Bool("is_available", available),
		slog.Bool("conditional", expected != nil),
	)
	return book, nil
}

// SyncLoan stores a loan record pushed by the borrow coordinator
func (s *BookService) SyncLoan(ctx context.Context, bookID int64, record *domain.BorrowRecord) error {
	if err := validateSyncedRecord(record); err != nil {
		return err
	}
	if record.BookID != bookID {
		return domain.NewValidationError("book_id", "does not match the path")
	}
	if _, err := s.books.GetByID(ctx, bookID); err != nil {
		return err
	}
	return s.loans.Upsert(ctx, record)
}
