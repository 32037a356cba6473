package handler

import (
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfichi/borrowed-book-api/internal/domain"
	"github.com/rfichi/borrowed-book-api/internal/security/middleware"
	"github.com/rfichi/borrowed-book-api/internal/service"
)

func TestAuth_SignupTokenMe(t *testing.T) {
	tm := newTokens(t)
	app := newUsersApp(t, tm)

	rec := send(t, app.handler, http.MethodPost, "/auth/signup",
		map[string]string{"name": "Alice", "email": "alice@example.com", "password": "s3cret"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	user := decode[domain.User](t, rec)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = send(t, app.handler, http.MethodPost, "/auth/signup",
		map[string]string{"name": "Alice", "email": "alice@example.com", "password": "other"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Email already registered", detail(t, rec))

	// OAuth2 password form
	form := url.Values{"username": {"alice@example.com"}, "password": {"s3cret"}}.Encode()
	rec = sendRaw(t, app.handler, http.MethodPost, TokenPath, form, "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	token := decode[service.TokenResult](t, rec)
	assert.Equal(t, "bearer", token.TokenType)

	// JSON body
	rec = send(t, app.handler, http.MethodPost, TokenPath, map[string]string{"email": "alice@example.com", "password": "s3cret"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = send(t, app.handler, http.MethodPost, TokenPath, map[string]string{"email": "alice@example.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))

	rec = send(t, app.handler, http.MethodGet, "/auth/me", nil, "Authorization", "Bearer "+token.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, user.ID, decode[domain.User](t, rec).ID)

	rec = send(t, app.handler, http.MethodGet, "/auth/me", nil, "Authorization", bearer(t, tm, "ghost@example.com"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = send(t, app.handler, http.MethodGet, "/auth/me", nil, middleware.InternalAPIKeyHeader, internalKey)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_SignupValidation(t *testing.T) {
	app := newUsersApp(t, newTokens(t))

	for _, body := range []map[string]string{
		{"email": "a@example.com", "password": "pw"},
		{"name": "A", "email": "not-an-email", "password": "pw"},
		{"name": "A", "email": "a@example.com", "password": ""},
	} {
		rec := send(t, app.handler, http.MethodPost, "/auth/signup", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	}
}

func TestUsers_GetAndList(t *testing.T) {
	tm := newTokens(t)
	app := newUsersApp(t, tm)
	alice := app.seed(t, "Alice", "alice@example.com")
	app.seed(t, "Bob", "bob@example.com")

	// the borrow service looks users up with the internal key
	rec := send(t, app.handler, http.MethodGet, fmt.Sprintf("/users/%d", alice.ID), nil, middleware.InternalAPIKeyHeader, internalKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, fmt.Sprintf(`{"id":%d,"name":"Alice","email":"alice@example.com"}`, alice.ID), rec.Body.String())

	rec = send(t, app.handler, http.MethodGet, "/users/999", nil, middleware.InternalAPIKeyHeader, internalKey)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "User not found", detail(t, rec))

	rec = send(t, app.handler, http.MethodGet, "/users/abc", nil, middleware.InternalAPIKeyHeader, internalKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	authz := bearer(t, tm, "alice@example.com")
	rec = send(t, app.handler, http.MethodGet, "/users", nil, "Authorization", authz)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[ListResponse[domain.User]](t, rec)
	assert.Equal(t, 2, list.Total)
	assert.Equal(t, 1, list.Page)
	assert.Equal(t, domain.DefaultPageSize, list.PageSize)

	rec = send(t, app.handler, http.MethodGet, "/users", nil, middleware.InternalAPIKeyHeader, internalKey)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUsers_BorrowHistory(t *testing.T) {
	tm := newTokens(t)
	app := newUsersApp(t, tm)
	alice := app.seed(t, "Alice", "alice@example.com")
	authz := bearer(t, tm, "alice@example.com")

	rec := send(t, app.handler, http.MethodGet, fmt.Sprintf("/users/%d/borrow-history", alice.ID), nil, "Authorization", authz)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, at := range []time.Time{first, first.Add(time.Hour)} {
		id := i + 1
		rec = send(t, app.handler, http.MethodPut, fmt.Sprintf("/users/%d/borrow-history/%d", alice.ID, id),
			map[string]any{"id": id, "user_id": alice.ID, "book_id": 5, "borrowed_at": at},
			middleware.InternalAPIKeyHeader, internalKey)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = send(t, app.handler, http.MethodGet, fmt.Sprintf("/users/%d/borrow-history", alice.ID), nil, "Authorization", authz)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]domain.BorrowRecord](t, rec)
	require.Len(t, history, 2)
	assert.Equal(t, int64(2), history[0].ID)

	rec = send(t, app.handler, http.MethodGet, "/users/404/borrow-history", nil, "Authorization", authz)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = send(t, app.handler, http.MethodPut, "/users/404/borrow-history/1",
		map[string]any{"id": 1, "user_id": 404, "book_id": 5, "borrowed_at": first},
		middleware.InternalAPIKeyHeader, internalKey)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
