package service

import (
	"context"
	"log/slog"

	"github.com/rfichi/borrowed-book-api/internal/domain"
)

// UserService serves the users directory
type UserService struct {
	users  domain.UserRepository
	loans  domain.LoanShadowRepository
	logger *slog.Logger
}

// NewUserService creates a new user service
func NewUserService(users domain.UserRepository, loans domain.LoanShadowRepository, logger *slog.Logger) *UserService {
	return &UserService{users: users, loans: loans, logger: logger}
}

func (s *UserService) Get(ctx context.Context, id int64) (*domain.User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *UserService) List(ctx context.Context, page domain.Page) ([]*domain.User, int, error) {
	return s.users.List(ctx, page)
}

// BorrowHistory returns the user's shadow loan records, newest first
func (s *UserService) BorrowHistory(ctx context.Context, userID int64) ([]*domain.BorrowRecord, error) {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return nil, err
	}
	return s.loans.ListByUser(ctx, userID)
}

// SyncLoan stores a loan record pushed by the borrow coordinator
func (s *UserService) SyncLoan(ctx context.Context, userID int64, record *domain.BorrowRecord) error {
	if err := validateSyncedRecord(record); err != nil {
		return err
	}
	if record.UserID != userID {
		return domain.NewValidationError("user_id", "does not match the path")
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return err
	}
	if err := s.loans.Upsert(ctx, record); err != nil {
		return err
	}
	s.logger.Debug("loan synced", slog.Int64("user_id", userID), slog.Int64("record_id", record.ID))
	return nil
}

func validateSyncedRecord(record *domain.BorrowRecord) error {
	if record.ID <= 0 {
		return domain.NewValidationError("id", "must be positive")
	}
	if record.BorrowedAt.IsZero() {
		return domain.NewValidationError("borrowed_at", "is required")
	}
	if record.ReturnedAt != nil && record.ReturnedAt.Before(record.BorrowedAt) {
		return domain.NewValidationError("returned_at", "must not precede borrowed_at")
	}
	return nil
}
