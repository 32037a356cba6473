package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfichi/borrowed-book-api/internal/domain"
)

func TestUserRepository_CreateAndGet(t *testing.T) {
	repo := NewPostgresUserRepository(setupServiceDB(t, "users"), quietLogger())
	ctx := context.Background()

	user := &domain.User{Name: "Ada", Email: "ada@example.com"}
	require.NoError(t, repo.CreateWithCredential(ctx, user, "hash"))
	assert.NotZero(t, user.ID)

	got, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", got.Email)

	cred, err := repo.GetCredentialByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, cred.UserID)
	assert.Equal(t, "hash", cred.PasswordHash)

	exists, err := repo.EmailExists(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestUserRepository_DuplicateEmail(t *testing.T) {
	repo := NewPostgresUserRepository(setupServiceDB(t, "users"), quietLogger())
	ctx := context.Background()

	require.NoError(t, repo.CreateWithCredential(ctx, &domain.User{Name: "A", Email: "dup@example.com"}, "h"))
	err := repo.CreateWithCredential(ctx, &domain.User{Name: "B", Email: "dup@example.com"}, "h")
	assert.ErrorIs(t, err, domain.ErrEmailTaken)

	_, total, err := repo.List(ctx, domain.Page{Number: 1, Size: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total, "failed signup must not leave a user behind")
}

func TestUserRepository_GetMissing(t *testing.T) {
	repo := NewPostgresUserRepository(setupServiceDB(t, "users"), quietLogger())

	_, err := repo.GetByID(context.Background(), 999)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestUserRepository_ListPages(t *testing.T) {
	repo := NewPostgresUserRepository(setupServiceDB(t, "users"), quietLogger())
	ctx := context.Background()

	for _, email := range []string{"a@x.io", "b@x.io", "c@x.io"} {
		require.NoError(t, repo.CreateWithCredential(ctx, &domain.User{Name: "n", Email: email}, "h"))
	}

	users, total, err := repo.List(ctx, domain.Page{Number: 2, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, users, 1)
	assert.Equal(t, "c@x.io", users[0].Email)
}

func TestUserLoans_HistoryOrder(t *testing.T) {
	pool := setupServiceDB(t, "users")
	users := NewPostgresUserRepository(pool, quietLogger())
	loans := NewLoanShadowRepository(pool, UserLoansTable, quietLogger())
	ctx := context.Background()

	u := &domain.User{Name: "Ada", Email: "ada@example.com"}
	require.NoError(t, users.CreateWithCredential(ctx, u, "h"))

	older := &domain.BorrowRecord{ID: 1, UserID: u.ID, BookID: 10, BorrowedAt: mustTime("2024-01-01T10:00:00Z")}
	newer := &domain.BorrowRecord{ID: 2, UserID: u.ID, BookID: 11, BorrowedAt: mustTime("2024-02-01T10:00:00Z")}
	require.NoError(t, loans.Upsert(ctx, older))
	require.NoError(t, loans.Upsert(ctx, newer))

	returned := mustTime("2024-01-05T10:00:00Z")
	older.ReturnedAt = &returned
	require.NoError(t, loans.Upsert(ctx, older))

	history, err := loans.ListByUser(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(2), history[0].ID)
	require.NotNil(t, history[1].ReturnedAt)
	assert.True(t, history[1].ReturnedAt.Equal(returned))

	err = loans.Upsert(ctx, &domain.BorrowRecord{ID: 3, UserID: 999, BookID: 1, BorrowedAt: returned})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUserLoans_LateSyncKeepsLoanClosed(t *testing.T) {
	pool := setupServiceDB(t, "users")
	users := NewPostgresUserRepository(pool, quietLogger())
	loans := NewLoanShadowRepository(pool, UserLoansTable, quietLogger())
	ctx := context.Background()

	u := &domain.User{Name: "Ada", Email: "ada@example.com"}
	require.NoError(t, users.CreateWithCredential(ctx, u, "h"))

	returned := mustTime("2024-01-05T10:00:00Z")
	closed := &domain.BorrowRecord{ID: 1, UserID: u.ID, BookID: 10, BorrowedAt: mustTime("2024-01-01T10:00:00Z"), ReturnedAt: &returned}
	require.NoError(t, loans.Upsert(ctx, closed))

	// the borrow-time copy arrives after the return
	stale := *closed
	stale.ReturnedAt = nil
	require.NoError(t, loans.Upsert(ctx, &stale))

	history, err := loans.ListByUser(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.NotNil(t, history[0].ReturnedAt)
	assert.True(t, history[0].ReturnedAt.Equal(returned))
}
