package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rfichi/borrowed-book-api/internal/domain"
	"github.com/rfichi/borrowed-book-api/internal/observability/metrics"
)

// ErrIdempotencyKeyReused is returned when a completed key is replayed for
// a different book or user
var ErrIdempotencyKeyReused = fmt.Errorf("idempotency key was used for a different request: %w", domain.ErrConflict)

const (
	syncTimeout = 5 * time.Second
	// bounds local writes that must finish once the books directory has
	// been changed, even if the client has gone away
	commitTimeout = 15 * time.Second
)

// UserDirectory is what the coordinator needs from the users service
type UserDirectory interface {
	GetUser(ctx context.Context, userID int64) (*domain.User, error)
	SyncLoan(ctx context.Context, record *domain.BorrowRecord) error
}

// BookDirectory is what the coordinator needs from the books service
type BookDirectory interface {
	GetBook(ctx context.Context, bookID int64) (*domain.Book, error)
	ValidateBookAvailable(ctx context.Context, bookID int64) (*domain.Book, error)
	UpdateAvailability(ctx context.Context, bookID int64, available bool, expected *bool) (*domain.Book, error)
	SyncLoan(ctx context.Context, record *domain.BorrowRecord) error
}

// BorrowService coordinates borrow and return across the two directories
// and owns the authoritative borrow records
type BorrowService struct {
	records domain.BorrowRepository
	users   UserDirectory
	books   BookDirectory
	idem    domain.IdempotencyRepository
	logger  *slog.Logger
	now     func() time.Time
}

// NewBorrowService creates the coordinator. idem may be nil, in which case
// Idempotency-Key headers are ignored.
func NewBorrowService(
	records domain.BorrowRepository,
	users UserDirectory,
	books BookDirectory,
	idem domain.IdempotencyRepository,
	logger *slog.Logger,
) *BorrowService {
	if logger == nil {
		logger = slog.Default()
	}
	return &BorrowService{
		records: records,
		users:   users,
		books:   books,
		idem:    idem,
		logger:  logger,
		now:     time.Now,
	}
}

// Borrow lends bookID to userID. Steps run in order and stop at the first
// failure: user check, availability check, conditional availability update,
// local record write, best-effort sync to the directories.
func (s *BorrowService) Borrow(ctx context.Context, bookID, userID int64, idempotencyKey string) (record *domain.BorrowRecord, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveLoanOperation("borrow", outcome(err), time.Since(start))
	}()

	if idempotencyKey != "" && s.idem != nil {
		claimed, recordID, claimErr := s.idem.Claim(ctx, idempotencyKey)
		if claimErr != nil {
			s.logger.Error("idempotency store failed", slog.String("error", claimErr.Error()))
			return nil, fmt.Errorf("idempotency store: %w", domain.ErrUpstreamUnavailable)
		}
		if !claimed {
			return s.replay(ctx, recordID, bookID, userID)
		}
		defer func() {
			s.settleKey(ctx, idempotencyKey, record, err)
		}()
	}

	return s.borrow(ctx, bookID, userID)
}

func (s *BorrowService) borrow(ctx context.Context, bookID, userID int64) (*domain.BorrowRecord, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	book, err := s.books.ValidateBookAvailable(ctx, bookID)
	if err != nil {
		return nil, err
	}

	expected := true
	if _, err := s.books.UpdateAvailability(ctx, bookID, false, &expected); err != nil {
		return nil, err
	}

	record := &domain.BorrowRecord{
		UserID:     user.ID,
		BookID:     book.ID,
		BorrowedAt: s.now().UTC().Truncate(time.Microsecond),
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	if err := s.records.Create(writeCtx, record, user, book); err != nil {
		// the book is already marked unavailable in the books directory
		s.logger.Error("borrow record write failed after availability update",
			slog.Int64("book_id", bookID),
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()),
		)
		metrics.IncBorrowInconsistency()
		return nil, fmt.Errorf("record borrow: %w", err)
	}

	s.logger.Info("book borrowed",
		slog.Int64("record_id", record.ID),
		slog.Int64("book_id", bookID),
		slog.Int64("user_id", userID),
	)
	s.syncLoan(ctx, record)
	return record, nil
}

func (s *BorrowService) replay(ctx context.Context, recordID, bookID, userID int64) (*domain.BorrowRecord, error) {
	if recordID == 0 {
		return nil, domain.ErrRequestInProgress
	}
	record, err := s.records.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if record.BookID != bookID || record.UserID != userID {
		return nil, ErrIdempotencyKeyReused
	}
	metrics.IncIdempotentReplay()
	s.logger.Info("borrow replayed from idempotency key", slog.Int64("record_id", recordID))
	return record, nil
}

func (s *BorrowService) settleKey(ctx context.Context, key string, record *domain.BorrowRecord, err error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), syncTimeout)
	defer cancel()

	if err != nil {
		if relErr := s.idem.Release(ctx, key); relErr != nil {
			s.logger.Warn("failed to release idempotency key", slog.String("error", relErr.Error()))
		}
		return
	}
	if cErr := s.idem.Complete(ctx, key, record.ID); cErr != nil {
		s.logger.Warn("failed to complete idempotency key",
			slog.Int64("record_id", record.ID),
			slog.String("error", cErr.Error()),
		)
	}
}

// Return closes the user's latest active loan of the book
func (s *BorrowService) Return(ctx context.Context, bookID, userID int64) (record *domain.BorrowRecord, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveLoanOperation("return", outcome(err), time.Since(start))
	}()

	if _, err := s.users.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	// The active record stays locked from lookup until it is closed, so a
	// duplicate return cannot mark the book available under a newer loan.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()

	released := false
	record, err = s.records.CloseActive(writeCtx, bookID, userID, s.now().UTC().Truncate(time.Microsecond),
		func(ctx context.Context, _ *domain.BorrowRecord) error {
			if _, err := s.books.UpdateAvailability(ctx, bookID, true, nil); err != nil {
				return err
			}
			released = true
			return nil
		})
	if err != nil {
		if !released {
			return nil, err
		}
		s.logger.Error("return record write failed after availability update",
			slog.Int64("book_id", bookID),
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()),
		)
		metrics.IncBorrowInconsistency()
		return nil, fmt.Errorf("record return: %w", err)
	}

	s.logger.Info("book returned",
		slog.Int64("record_id", record.ID),
		slog.Int64("book_id", bookID),
		slog.Int64("user_id", userID),
	)
	s.syncLoan(ctx, record)
	return record, nil
}

// GetRecord returns one borrow record
func (s *BorrowService) GetRecord(ctx context.Context, id int64) (*domain.BorrowRecord, error) {
	return s.records.GetByID(ctx, id)
}

// UserRecords returns every record of a user, newest first
func (s *BorrowService) UserRecords(ctx context.Context, userID int64) ([]*domain.BorrowRecord, error) {
	return s.records.ListByUser(ctx, userID)
}

// ActiveForBook returns the open loan of a book
func (s *BorrowService) ActiveForBook(ctx context.Context, bookID int64) (*domain.BorrowRecord, error) {
	return s.records.FindActiveByBook(ctx, bookID)
}

// syncLoan pushes the record to both directories. Failures are logged and
// counted, never returned.
func (s *BorrowService) syncLoan(ctx context.Context, record *domain.BorrowRecord) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), syncTimeout)
	defer cancel()

	if err := s.users.SyncLoan(ctx, record); err != nil {
		metrics.IncShadowSyncFailure("users")
		s.logger.Warn("failed to sync loan to users directory",
			slog.Int64("record_id", record.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.books.SyncLoan(ctx, record); err != nil {
		metrics.IncShadowSyncFailure("books")
		s.logger.Warn("failed to sync loan to books directory",
			slog.Int64("record_id", record.ID),
			slog.String("error", err.Error()),
		)
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, domain.ErrBookNotFound):
		return "book_not_found"
	case errors.Is(err, domain.ErrNoActiveLoan):
		return "no_active_loan"
	case errors.Is(err, domain.ErrBookAlreadyBorrowed):
		return "already_borrowed"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, domain.ErrUpstreamError):
		return "upstream_error"
	default:
		return "error"
	}
}
