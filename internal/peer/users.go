package peer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rfichi/borrowed-book-api/internal/domain"
)

// UsersClient talks to the users directory
type UsersClient struct {
	c *client
}

// NewUsersClient creates a users directory client
func NewUsersClient(cfg Config, logger *slog.Logger) *UsersClient {
	return &UsersClient{c: newClient("users", cfg, logger)}
}

// GetUser confirms the user exists and returns it
func (u *UsersClient) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	user := &domain.User{}
	err := u.c.do(ctx, call{
		op:       "get_user",
		method:   http.MethodGet,
		path:     fmt.Sprintf("/users/%d", userID),
		out:      user,
		byStatus: map[int]error{http.StatusNotFound: domain.ErrUserNotFound},
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// SyncLoan upserts the user's shadow copy of a loan record
func (u *UsersClient) SyncLoan(ctx context.Context, record *domain.BorrowRecord) error {
	return u.c.do(ctx, call{
		op:       "sync_loan",
		method:   http.MethodPut,
		path:     fmt.Sprintf("/users/%d/borrow-history/%d", record.UserID, record.ID),
		body:     record,
		byStatus: map[int]error{http.StatusNotFound: domain.ErrUserNotFound},
	})
}
