package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfichi/borrowed-book-api/internal/domain"
	"github.com/rfichi/borrowed-book-api/internal/repository/memory"
)

type library struct {
	userRepo  *memory.UserRepository
	userLoans *memory.LoanShadowRepository
	bookLoans *memory.LoanShadowRepository
	users     *UserService
	books     *BookService
	usersDir  *usersDir
	booksDir  *booksDir
	records   *memory.BorrowRepository
	idem      *memIdem
	svc       *BorrowService
}

func newLibrary() *library {
	l := &library{
		userRepo:  memory.NewUserRepository(),
		userLoans: memory.NewLoanShadowRepository(),
		bookLoans: memory.NewLoanShadowRepository(),
		records:   memory.NewBorrowRepository(),
		idem:      newMemIdem(),
	}
	l.users = NewUserService(l.userRepo, l.userLoans, quietLogger())
	l.books = NewBookService(memory.NewBookRepository(l.bookLoans), l.bookLoans, quietLogger())
	l.usersDir = &usersDir{svc: l.users}
	l.booksDir = &booksDir{svc: l.books}
	l.svc = NewBorrowService(l.records, l.usersDir, l.booksDir, l.idem, quietLogger())
	return l
}

func (l *library) seed(t *testing.T) (*domain.User, *domain.Book) {
	t.Helper()
	u := seedUser(t, l.userRepo, "Alice", "alice@example.com")
	b, err := l.books.Create(context.Background(), "Dune", "Frank Herbert", 1965)
	require.NoError(t, err)
	return u, b
}

func (l *library) available(t *testing.T, bookID int64) bool {
	t.Helper()
	b, err := l.books.Get(context.Background(), bookID)
	require.NoError(t, err)
	return b.IsAvailable
}

func TestBorrowAndReturn(t *testing.T) {
	l := newLibrary()
	ctx := context.Background()
	u, b := l.seed(t)

	rec, err := l.svc.Borrow(ctx, b.ID, u.ID, "")
	require.NoError(t, err)
	assert.Equal(t, u.ID, rec.UserID)
	assert.Equal(t, b.ID, rec.BookID)
	assert.Nil(t, rec.ReturnedAt)
	assert.False(t, l.available(t, b.ID))

	// shadow copies land in both directories
	history, err := l.users.BorrowHistory(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, rec.ID, history[0].ID)
	assert.Equal(t, 1, l.bookLoans.Len())

	_, err = l.svc.Borrow(ctx, b.ID, u.ID, "")
	assert.ErrorIs(t, err, domain.ErrBookAlreadyBorrowed)

	returned, err := l.svc.Return(ctx, b.ID, u.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, returned.ID)
	require.NotNil(t, returned.ReturnedAt)
	assert.False(t, returned.ReturnedAt.Before(returned.BorrowedAt))
	assert.True(t, l.available(t, b.ID))

	history, err = l.users.BorrowHistory(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.NotNil(t, history[0].ReturnedAt)

	_, err = l.svc.Return(ctx, b.ID, u.ID)
	assert.ErrorIs(t, err, domain.ErrNoActiveLoan)

	// the book can be lent again after return
	again, err := l.svc.Borrow(ctx, b.ID, u.ID, "")
	require.NoError(t, err)
	assert.NotEqual(t, rec.ID, again.ID)

	active, err := l.svc.ActiveForBook(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, again.ID, active.ID)

	all, err := l.svc.UserRecords(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestBorrow_UserNotFoundStopsEarly(t *testing.T) {
	l := newLibrary()
	_, b := l.seed(t)

	_, err := l.svc.Borrow(context.Background(), b.ID, 999, "")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	assert.Zero(t, l.booksDir.getCalls)
	assert.Zero(t, l.booksDir.casCalls)
	assert.True(t, l.available(t, b.ID))
}

func TestBorrow_BookNotFound(t *testing.T) {
	l := newLibrary()
	u, _ := l.seed(t)

	_, err := l.svc.Borrow(context.Background(), 999, u.ID, "")
	assert.ErrorIs(t, err, domain.ErrBookNotFound)
	assert.Zero(t, l.booksDir.casCalls)
	assert.Zero(t, l.records.Len())
}

func TestBorrow_UpstreamFailurePassesThrough(t *testing.T) {
	l := newLibrary()
	u, b := l.seed(t)
	l.booksDir.err = &domain.UpstreamError{Service: "books", StatusCode: 502}

	_, err := l.svc.Borrow(context.Background(), b.ID, u.ID, "")
	var upErr *domain.UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, 502, upErr.StatusCode)
	assert.Zero(t, l.records.Len())
}

func TestBorrow_LosesRaceAtConditionalUpdate(t *testing.T) {
	l := newLibrary()
	ctx := context.Background()
	u, b := l.seed(t)

	// someone else takes the book between the availability check and the update
	l.booksDir.beforeCAS = func() {
		_, err := l.books.SetAvailability(ctx, b.ID, false, nil)
		require.NoError(t, err)
	}

	_, err := l.svc.Borrow(ctx, b.ID, u.ID, "")
	assert.ErrorIs(t, err, domain.ErrBookAlreadyBorrowed)
	assert.Zero(t, l.records.Len())
}

func TestBorrow_RecordWriteFailureLeavesBookUnavailable(t *testing.T) {
	l := newLibrary()
	u, b := l.seed(t)
	l.records.FailCreates(errors.New("connection reset"))

	_, err := l.svc.Borrow(context.Background(), b.ID, u.ID, "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrConflict)
	assert.False(t, l.available(t, b.ID))
	assert.Zero(t, l.userLoans.Len())
	assert.Zero(t, l.bookLoans.Len())
}

func TestBorrow_SyncFailuresDoNotSurface(t *testing.T) {
	l := newLibrary()
	ctx := context.Background()
	u, b := l.seed(t)
	l.usersDir.syncErr = domain.ErrUpstreamUnavailable
	l.booksDir.syncErr = domain.ErrUpstreamUnavailable

	rec, err := l.svc.Borrow(ctx, b.ID, u.ID, "")
	require.NoError(t, err)
	assert.Zero(t, l.userLoans.Len())

	_, err = l.svc.Return(ctx, b.ID, u.ID)
	require.NoError(t, err)

	stored, err := l.svc.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.ReturnedAt)
}

func TestReturn_WithoutActiveLoanChangesNothing(t *testing.T) {
	l := newLibrary()
	ctx := context.Background()
	u, b := l.seed(t)
	_, err := l.books.SetAvailability(ctx, b.ID, false, nil)
	require.NoError(t, err)

	_, err = l.svc.Return(ctx, b.ID, u.ID)
	assert.ErrorIs(t, err, domain.ErrNoActiveLoan)
	assert.Zero(t, l.booksDir.casCalls)
	assert.False(t, l.available(t, b.ID))

	_, err = l.svc.Return(ctx, b.ID, 999)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestReturn_OnlyTheBorrowerCanReturn(t *testing.T) {
	l := newLibrary()
	ctx := context.Background()
	u, b := l.seed(t)
	other := seedUser(t, l.userRepo, "Bob", "bob@example.com")

	_, err := l.svc.Borrow(ctx, b.ID, u.ID, "")
	require.NoError(t, err)

	_, err = l.svc.Return(ctx, b.ID, other.ID)
	assert.ErrorIs(t, err, domain.ErrNoActiveLoan)
	assert.False(t, l.available(t, b.ID))
}

func TestReturn_DuplicateWaitsForTheFirst(t *testing.T) {
	l := newLibrary()
	ctx := context.Background()
	u, b := l.seed(t)
	v := seedUser(t, l.userRepo, "Victor", "victor@example.com")
	w := seedUser(t, l.userRepo, "Wendy", "wendy@example.com")

	_, err := l.svc.Borrow(ctx, b.ID, u.ID, "")
	require.NoError(t, err)

	// a retried return arrives while the first is releasing the book
	dupDone := make(chan error, 1)
	var once sync.Once
	l.booksDir.mu.Lock()
	l.booksDir.beforeCAS = func() {
		once.Do(func() {
			go func() {
				_, err := l.svc.Return(ctx, b.ID, u.ID)
				dupDone <- err
			}()
			select {
			case err := <-dupDone:
				t.Errorf("duplicate return finished while the loan was being closed: %v", err)
				dupDone <- err
			case <-time.After(100 * time.Millisecond):
			}
		})
	}
	l.booksDir.mu.Unlock()

	_, err = l.svc.Return(ctx, b.ID, u.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, <-dupDone, domain.ErrNoActiveLoan)
	// the borrow's conditional update and a single release
	assert.Equal(t, 2, l.booksDir.casCalls)

	// the next loan is not released by the duplicate
	_, err = l.svc.Borrow(ctx, b.ID, v.ID, "")
	require.NoError(t, err)
	_, err = l.svc.Borrow(ctx, b.ID, w.ID, "")
	assert.ErrorIs(t, err, domain.ErrBookAlreadyBorrowed)
	assert.Equal(t, 1, l.records.ActiveCount(b.ID))
	assert.False(t, l.available(t, b.ID))
}

func TestReturn_RecordWriteFailureAfterRelease(t *testing.T) {
	l := newLibrary()
	ctx := context.Background()
	u, b := l.seed(t)

	_, err := l.svc.Borrow(ctx, b.ID, u.ID, "")
	require.NoError(t, err)

	l.records.FailCloses(errors.New("disk full"))
	_, err = l.svc.Return(ctx, b.ID, u.ID)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNoActiveLoan)
	// logged and counted as an inconsistency; nothing is rolled back remotely
	assert.True(t, l.available(t, b.ID))
	assert.Equal(t, 1, l.records.ActiveCount(b.ID))
}

func TestLocalWritesSurviveClientDisconnect(t *testing.T) {
	l := newLibrary()
	svc := NewBorrowService(cancelAwareRecords{l.records}, l.usersDir, l.booksDir, nil, quietLogger())
	u, b := l.seed(t)

	// the client goes away right after the books directory was changed
	borrowCtx, cancelBorrow := context.WithCancel(context.Background())
	defer cancelBorrow()
	l.booksDir.mu.Lock()
	l.booksDir.beforeCAS = cancelBorrow
	l.booksDir.mu.Unlock()

	rec, err := svc.Borrow(borrowCtx, b.ID, u.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 1, l.records.ActiveCount(b.ID))
	assert.False(t, l.available(t, b.ID))

	returnCtx, cancelReturn := context.WithCancel(context.Background())
	defer cancelReturn()
	l.booksDir.mu.Lock()
	l.booksDir.beforeCAS = cancelReturn
	l.booksDir.mu.Unlock()

	returned, err := svc.Return(returnCtx, b.ID, u.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, returned.ID)
	assert.Zero(t, l.records.ActiveCount(b.ID))
	assert.True(t, l.available(t, b.ID))
}

func TestBorrow_Idempotency(t *testing.T) {
	l := newLibrary()
	ctx := context.Background()
	u, b := l.seed(t)

	first, err := l.svc.Borrow(ctx, b.ID, u.ID, "key-1")
	require.NoError(t, err)

	second, err := l.svc.Borrow(ctx, b.ID, u.ID, "key-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, l.records.Len())
	assert.Equal(t, 1, l.booksDir.casCalls)

	other, err := l.books.Create(ctx, "Emma", "Austen", 1815)
	require.NoError(t, err)
	_, err = l.svc.Borrow(ctx, other.ID, u.ID, "key-1")
	assert.ErrorIs(t, err, ErrIdempotencyKeyReused)
	assert.True(t, l.available(t, other.ID))
}

func TestBorrow_IdempotencyKeyInProgress(t *testing.T) {
	l := newLibrary()
	ctx := context.Background()
	u, b := l.seed(t)

	claimed, _, err := l.idem.Claim(ctx, "busy")
	require.NoError(t, err)
	require.True(t, claimed)

	_, err = l.svc.Borrow(ctx, b.ID, u.ID, "busy")
	assert.ErrorIs(t, err, domain.ErrRequestInProgress)
	assert.True(t, l.available(t, b.ID))
}

func TestBorrow_IdempotencyKeyReleasedOnFailure(t *testing.T) {
	l := newLibrary()
	ctx := context.Background()
	u, b := l.seed(t)

	_, err := l.svc.Borrow(ctx, b.ID, 999, "retry-me")
	require.ErrorIs(t, err, domain.ErrUserNotFound)
	assert.False(t, l.idem.has("retry-me"))

	rec, err := l.svc.Borrow(ctx, b.ID, u.ID, "retry-me")
	require.NoError(t, err)
	assert.Equal(t, u.ID, rec.UserID)
}

func TestBorrow_IdempotencyStoreDown(t *testing.T) {
	l := newLibrary()
	u, b := l.seed(t)
	l.idem.err = errors.New("dial tcp: connection refused")

	_, err := l.svc.Borrow(context.Background(), b.ID, u.ID, "k")
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.Zero(t, l.usersDir.calls.Load())

	// without a key the store is not consulted
	_, err = l.svc.Borrow(context.Background(), b.ID, u.ID, "")
	assert.NoError(t, err)
}

func TestBorrow_ConcurrentRequestsLendOnce(t *testing.T) {
	l := newLibrary()
	ctx := context.Background()
	_, b := l.seed(t)

	const n = 16
	borrowers := make([]*domain.User, n)
	for i := range borrowers {
		borrowers[i] = seedUser(t, l.userRepo, "reader", fmt.Sprintf("reader%d@example.com", i))
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for _, u := range borrowers {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := l.svc.Borrow(ctx, b.ID, userID, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrBookAlreadyBorrowed):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(u.ID)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, conflicts)
	assert.Equal(t, 1, l.records.ActiveCount(b.ID))
	assert.False(t, l.available(t, b.ID))
}

func TestOutcomeLabels(t *testing.T) {
	assert.Equal(t, "success", outcome(nil))
	assert.Equal(t, "user_not_found", outcome(domain.ErrUserNotFound))
	assert.Equal(t, "already_borrowed", outcome(domain.ErrBookAlreadyBorrowed))
	assert.Equal(t, "conflict", outcome(ErrIdempotencyKeyReused))
	assert.Equal(t, "upstream_error", outcome(&domain.UpstreamError{Service: "users", StatusCode: 500}))
	assert.Equal(t, "error", outcome(errors.New("boom")))
}

func TestGetRecordNotFound(t *testing.T) {
	l := newLibrary()
	_, err := l.svc.GetRecord(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
	_, err = l.svc.ActiveForBook(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrNoActiveLoan)
}
