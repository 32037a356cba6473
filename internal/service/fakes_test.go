package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rfichi/borrowed-book-api/internal/domain"
	"github.com/rfichi/borrowed-book-api/internal/repository/memory"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// usersDir is an in-process users directory
type usersDir struct {
	svc     *UserService
	err     error
	syncErr error
	calls   atomic.Int32
}

func (d *usersDir) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	d.calls.Add(1)
	if d.err != nil {
		return nil, d.err
	}
	return d.svc.Get(ctx, id)
}

func (d *usersDir) SyncLoan(ctx context.Context, r *domain.BorrowRecord) error {
	if d.syncErr != nil {
		return d.syncErr
	}
	return d.svc.SyncLoan(ctx, r.UserID, r)
}

// booksDir is an in-process books directory that translates a failed
// precondition the way the HTTP client does
type booksDir struct {
	svc       *BookService
	err       error
	syncErr   error
	mu        sync.Mutex
	casCalls  int
	getCalls  int
	beforeCAS func()
}

func (d *booksDir) GetBook(ctx context.Context, id int64) (*domain.Book, error) {
	d.mu.Lock()
	d.getCalls++
	d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return d.svc.Get(ctx, id)
}

func (d *booksDir) ValidateBookAvailable(ctx context.Context, id int64) (*domain.Book, error) {
	b, err := d.GetBook(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.IsAvailable {
		return nil, domain.ErrBookAlreadyBorrowed
	}
	return b, nil
}

func (d *booksDir) UpdateAvailability(ctx context.Context, id int64, available bool, expected *bool) (*domain.Book, error) {
	d.mu.Lock()
	d.casCalls++
	hook := d.beforeCAS
	d.mu.Unlock()
	if hook != nil {
		hook()
	}
	b, err := d.svc.SetAvailability(ctx, id, available, expected)
	if errors.Is(err, domain.ErrAvailabilityMismatch) {
		return nil, domain.ErrBookAlreadyBorrowed
	}
	return b, err
}

func (d *booksDir) SyncLoan(ctx context.Context, r *domain.BorrowRecord) error {
	if d.syncErr != nil {
		return d.syncErr
	}
	return d.svc.SyncLoan(ctx, r.BookID, r)
}

type memIdem struct {
	mu   sync.Mutex
	keys map[string]int64
	err  error
}

func newMemIdem() *memIdem { return &memIdem{keys: map[string]int64{}} }

func (m *memIdem) Claim(_ context.Context, key string) (bool, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, 0, m.err
	}
	if id, ok := m.keys[key]; ok {
		return false, id, nil
	}
	m.keys[key] = 0
	return true, 0, nil
}

func (m *memIdem) Complete(_ context.Context, key string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = id
	return nil
}

func (m *memIdem) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

func (m *memIdem) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.keys[key]
	return ok
}

// cancelAwareRecords fails writes whose context is already done, the way
// database/sql does
type cancelAwareRecords struct {
	*memory.BorrowRepository
}

func (c cancelAwareRecords) Create(ctx context.Context, r *domain.BorrowRecord, u *domain.User, b *domain.Book) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.BorrowRepository.Create(ctx, r, u, b)
}

func (c cancelAwareRecords) CloseActive(
	ctx context.Context,
	bookID, userID int64,
	at time.Time,
	beforeClose func(ctx context.Context, active *domain.BorrowRecord) error,
) (*domain.BorrowRecord, error) {
	return c.BorrowRepository.CloseActive(ctx, bookID, userID, at, func(ctx context.Context, r *domain.BorrowRecord) error {
		if err := beforeClose(ctx, r); err != nil {
			return err
		}
		return ctx.Err()
	})
}
