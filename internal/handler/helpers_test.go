package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rfichi/borrowed-book-api/internal/domain"
	"github.com/rfichi/borrowed-book-api/internal/repository/memory"
	"github.com/rfichi/borrowed-book-api/internal/security/auth"
	"github.com/rfichi/borrowed-book-api/internal/security/middleware"
	"github.com/rfichi/borrowed-book-api/internal/service"
)

const internalKey = "test-internal-key"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTokens(t *testing.T) *auth.TokenManager {
	t.Helper()
	tm, err := auth.NewTokenManager("test-secret", "HS256", "library", time.Hour)
	require.NoError(t, err)
	return tm
}

// stack wraps a router with the middlewares the handlers depend on
func stack(tm *auth.TokenManager, rt *Router) http.Handler {
	log := quietLogger()
	return middleware.Authenticate(tm, internalKey, log)(
		middleware.ValidateJSONContentType(log, TokenPath)(rt),
	)
}

func bearer(t *testing.T, tm *auth.TokenManager, email string) string {
	t.Helper()
	token, err := tm.GenerateToken(email)
	require.NoError(t, err)
	return "Bearer " + token
}

// send issues a JSON request. headers are key/value pairs.
func send(t *testing.T, h http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		return sendRaw(t, h, method, path, "", "", headers...)
	}
	raw, ok := body.(string)
	if !ok {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		raw = string(b)
	}
	return sendRaw(t, h, method, path, raw, "application/json", headers...)
}

func sendRaw(t *testing.T, h http.Handler, method, path, body, contentType string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[ErrorResponse](t, rec).Detail
}

type usersApp struct {
	handler http.Handler
	repo    *memory.UserRepository
	loans   *memory.LoanShadowRepository
}

func newUsersApp(t *testing.T, tm *auth.TokenManager) *usersApp {
	t.Helper()
	repo, loans := memory.NewUserRepository(), memory.NewLoanShadowRepository()
	authSvc := service.NewAuthService(repo, tm, quietLogger())
	rt := NewRouter()
	NewAuthHandler(authSvc, quietLogger()).Register(rt)
	NewUserHandler(service.NewUserService(repo, loans, quietLogger()), authSvc, quietLogger()).Register(rt)
	return &usersApp{handler: stack(tm, rt), repo: repo, loans: loans}
}

// seed stores a user without going through bcrypt
func (a *usersApp) seed(t *testing.T, name, email string) *domain.User {
	t.Helper()
	u := &domain.User{Name: name, Email: email}
	require.NoError(t, a.repo.CreateWithCredential(context.Background(), u, "unused"))
	return u
}

type booksApp struct {
	handler http.Handler
	books   *service.BookService
	loans   *memory.LoanShadowRepository
}

func newBooksApp(t *testing.T, tm *auth.TokenManager) *booksApp {
	t.Helper()
	loans := memory.NewLoanShadowRepository()
	books := service.NewBookService(memory.NewBookRepository(loans), loans, quietLogger())
	rt := NewRouter()
	NewBookHandler(books, quietLogger()).Register(rt)
	return &booksApp{handler: stack(tm, rt), books: books, loans: loans}
}

func (a *booksApp) seed(t *testing.T, title string) *domain.Book {
	t.Helper()
	b, err := a.books.Create(context.Background(), title, "Author", 2000)
	require.NoError(t, err)
	return b
}

func (a *booksApp) available(t *testing.T, id int64) bool {
	t.Helper()
	b, err := a.books.Get(context.Background(), id)
	require.NoError(t, err)
	return b.IsAvailable
}
