// Package memory holds in-memory repositories with the same semantics as the
// Postgres ones. It is test support for the service, handler and server
// packages; the binaries always use Postgres and Redis.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rfichi/borrowed-book-api/internal/domain"
	"github.com/rfichi/borrowed-book-api/internal/infrastructure/redis"
)

func paginate[T any](all []T, page domain.Page) []T {
	start := page.Offset()
	if start >= len(all) {
		return []T{}
	}
	end := min(start+page.Size, len(all))
	return all[start:end]
}

// UserRepository implements domain.UserRepository
type UserRepository struct {
	mu    sync.Mutex
	users map[int64]*domain.User
	creds map[string]*domain.Credential
	next  int64
}

func NewUserRepository() *UserRepository {
	return &UserRepository{users: map[int64]*domain.User{}, creds: map[string]*domain.Credential{}}
}

func (m *UserRepository) CreateWithCredential(_ context.Context, u *domain.User, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.creds[u.Email]; ok {
		return domain.ErrEmailTaken
	}
	m.next++
	u.ID = m.next
	u.CreatedAt = time.Now()
	cp := *u
	m.users[u.ID] = &cp
	m.creds[u.Email] = &domain.Credential{ID: u.ID, UserID: u.ID, Email: u.Email, PasswordHash: hash}
	return nil
}

func (m *UserRepository) GetByID(_ context.Context, id int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, domain.ErrUserNotFound
}

func (m *UserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (m *UserRepository) GetCredentialByEmail(_ context.Context, email string) (*domain.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.creds[email]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, domain.ErrUserNotFound
}

func (m *UserRepository) EmailExists(_ context.Context, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.creds[email]
	return ok, nil
}

func (m *UserRepository) List(_ context.Context, page domain.Page) ([]*domain.User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]*domain.User, 0, len(m.users))
	for _, u := range m.users {
		cp := *u
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return paginate(all, page), len(all), nil
}

// BookRepository implements domain.BookRepository. Deleting a book drops its
// records from loans, as the Postgres repository does in one transaction.
type BookRepository struct {
	mu    sync.Mutex
	books map[int64]*domain.Book
	loans *LoanShadowRepository
	next  int64
}

func NewBookRepository(loans *LoanShadowRepository) *BookRepository {
	return &BookRepository{books: map[int64]*domain.Book{}, loans: loans}
}

func (m *BookRepository) Create(_ context.Context, b *domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	b.ID = m.next
	cp := *b
	m.books[b.ID] = &cp
	return nil
}

func (m *BookRepository) GetByID(_ context.Context, id int64) (*domain.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.books[id]; ok {
		cp := *b
		return &cp, nil
	}
	return nil, domain.ErrBookNotFound
}

func (m *BookRepository) List(_ context.Context, page domain.Page) ([]*domain.Book, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]*domain.Book, 0, len(m.books))
	for _, b := range m.books {
		cp := *b
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return paginate(all, page), len(all), nil
}

func (m *BookRepository) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[id]; !ok {
		return domain.ErrBookNotFound
	}
	if m.loans != nil {
		m.loans.deleteByBook(id)
	}
	delete(m.books, id)
	return nil
}

func (m *BookRepository) SetAvailability(_ context.Context, id int64, available bool, expected *bool) (*domain.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return nil, domain.ErrBookNotFound
	}
	if expected != nil && b.IsAvailable != *expected {
		return nil, domain.ErrAvailabilityMismatch
	}
	b.IsAvailable = available
	cp := *b
	return &cp, nil
}

// LoanShadowRepository implements domain.LoanShadowRepository
type LoanShadowRepository struct {
	mu      sync.Mutex
	records map[int64]*domain.BorrowRecord
}

func NewLoanShadowRepository() *LoanShadowRepository {
	return &LoanShadowRepository{records: map[int64]*domain.BorrowRecord{}}
}

func (m *LoanShadowRepository) Upsert(_ context.Context, r *domain.BorrowRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	if old, ok := m.records[r.ID]; ok && cp.ReturnedAt == nil {
		cp.ReturnedAt = old.ReturnedAt
	}
	m.records[r.ID] = &cp
	return nil
}

func (m *LoanShadowRepository) ListByUser(_ context.Context, userID int64) ([]*domain.BorrowRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.BorrowRecord{}
	for _, r := range m.records {
		if r.UserID == userID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BorrowedAt.After(out[j].BorrowedAt) })
	return out, nil
}

func (m *LoanShadowRepository) deleteByBook(bookID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.records {
		if r.BookID == bookID {
			delete(m.records, id)
		}
	}
}

// Len returns the number of stored records
func (m *LoanShadowRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// BorrowRepository implements domain.BorrowRepository. CloseActive holds a
// per-book lock where Postgres holds a row lock.
type BorrowRepository struct {
	mu        sync.Mutex
	records   map[int64]*domain.BorrowRecord
	next      int64
	createErr error
	closeErr  error
	closing   map[int64]*sync.Mutex
}

func NewBorrowRepository() *BorrowRepository {
	return &BorrowRepository{records: map[int64]*domain.BorrowRecord{}, closing: map[int64]*sync.Mutex{}}
}

// FailCloses makes every following CloseActive fail with err after its
// callback has run; nil restores it
func (m *BorrowRepository) FailCloses(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeErr = err
}

// FailCreates makes every following Create return err; nil restores it
func (m *BorrowRepository) FailCreates(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
}

func (m *BorrowRepository) Create(_ context.Context, r *domain.BorrowRecord, _ *domain.User, _ *domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.next++
	r.ID = m.next
	cp := *r
	m.records[r.ID] = &cp
	return nil
}

func (m *BorrowRepository) GetByID(_ context.Context, id int64) (*domain.BorrowRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, domain.ErrRecordNotFound
}

func (m *BorrowRepository) FindActive(_ context.Context, bookID, userID int64) (*domain.BorrowRecord, error) {
	return m.latest(func(r *domain.BorrowRecord) bool {
		return r.BookID == bookID && r.UserID == userID && r.Active()
	})
}

func (m *BorrowRepository) FindActiveByBook(_ context.Context, bookID int64) (*domain.BorrowRecord, error) {
	return m.latest(func(r *domain.BorrowRecord) bool { return r.BookID == bookID && r.Active() })
}

func (m *BorrowRepository) latest(match func(*domain.BorrowRecord) bool) (*domain.BorrowRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *domain.BorrowRecord
	for _, r := range m.records {
		if !match(r) {
			continue
		}
		if best == nil || r.BorrowedAt.After(best.BorrowedAt) || (r.BorrowedAt.Equal(best.BorrowedAt) && r.ID > best.ID) {
			best = r
		}
	}
	if best == nil {
		return nil, domain.ErrNoActiveLoan
	}
	cp := *best
	return &cp, nil
}

func (m *BorrowRepository) bookLock(bookID int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.closing[bookID]
	if !ok {
		l = &sync.Mutex{}
		m.closing[bookID] = l
	}
	return l
}

func (m *BorrowRepository) CloseActive(
	ctx context.Context,
	bookID, userID int64,
	at time.Time,
	beforeClose func(ctx context.Context, active *domain.BorrowRecord) error,
) (*domain.BorrowRecord, error) {
	lock := m.bookLock(bookID)
	lock.Lock()
	defer lock.Unlock()

	active, err := m.FindActive(ctx, bookID, userID)
	if err != nil {
		return nil, err
	}
	if err := beforeClose(ctx, active); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closeErr != nil {
		return nil, m.closeErr
	}
	r := m.records[active.ID]
	r.ReturnedAt = &at
	cp := *r
	return &cp, nil
}

func (m *BorrowRepository) ListByUser(_ context.Context, userID int64) ([]*domain.BorrowRecord, error) {
	return m.filter(func(r *domain.BorrowRecord) bool { return r.UserID == userID }), nil
}

func (m *BorrowRepository) ListActive(_ context.Context) ([]*domain.BorrowRecord, error) {
	return m.filter(func(r *domain.BorrowRecord) bool { return r.Active() }), nil
}

func (m *BorrowRepository) filter(match func(*domain.BorrowRecord) bool) []*domain.BorrowRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.BorrowRecord{}
	for _, r := range m.records {
		if match(r) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].BorrowedAt.Equal(out[j].BorrowedAt) {
			return out[i].BorrowedAt.After(out[j].BorrowedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Len returns the number of stored records
func (m *BorrowRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// ActiveCount returns the number of open loans of a book
func (m *BorrowRepository) ActiveCount(bookID int64) int {
	return len(m.filter(func(r *domain.BorrowRecord) bool { return r.BookID == bookID && r.Active() }))
}

// KV is a map-backed stand-in for the Redis client. TTLs are ignored.
type KV struct {
	mu   sync.Mutex
	data map[string]string
}

func NewKV() *KV { return &KV{data: map[string]string{}} }

func (m *KV) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = toString(value)
	return true, nil
}

func (m *KV) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = toString(value)
	return nil
}

func (m *KV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", redis.ErrNil
	}
	return v, nil
}

func (m *KV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(v)
	}
}
