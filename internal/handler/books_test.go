package handler

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfichi/borrowed-book-api/internal/domain"
	"github.com/rfichi/borrowed-book-api/internal/security/middleware"
)

func TestBooks_CRUD(t *testing.T) {
	tm := newTokens(t)
	app := newBooksApp(t, tm)
	authz := bearer(t, tm, "reader@example.com")

	rec := send(t, app.handler, http.MethodPost, "/books",
		map[string]any{"title": "Dune", "author": "Frank Herbert", "published_year": 1965}, "Authorization", authz)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[domain.Book](t, rec)
	assert.True(t, created.IsAvailable)

	rec = send(t, app.handler, http.MethodGet, fmt.Sprintf("/books/%d", created.ID), nil, "Authorization", authz)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Dune", decode[domain.Book](t, rec).Title)

	rec = send(t, app.handler, http.MethodGet, "/books?page=1&page_size=10", nil, "Authorization", authz)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[ListResponse[domain.Book]](t, rec)
	assert.Equal(t, 1, list.Total)
	assert.Equal(t, 10, list.PageSize)
	require.Len(t, list.Results, 1)

	rec = send(t, app.handler, http.MethodDelete, fmt.Sprintf("/books/%d", created.ID), nil, "Authorization", authz)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = send(t, app.handler, http.MethodGet, fmt.Sprintf("/books/%d", created.ID), nil, "Authorization", authz)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Book not found", detail(t, rec))
}

func TestBooks_CreateValidation(t *testing.T) {
	tm := newTokens(t)
	app := newBooksApp(t, tm)
	authz := bearer(t, tm, "reader@example.com")
	nextYear := time.Now().UTC().Year() + 1

	tests := []struct {
		name string
		body any
	}{
		{"missing year", map[string]any{"title": "T", "author": "A"}},
		{"future year", map[string]any{"title": "T", "author": "A", "published_year": nextYear}},
		{"negative year", map[string]any{"title": "T", "author": "A", "published_year": -5}},
		{"blank title", map[string]any{"title": " ", "author": "A", "published_year": 2000}},
		{"not json", "{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := send(t, app.handler, http.MethodPost, "/books", tt.body, "Authorization", authz)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestBooks_Pagination(t *testing.T) {
	tm := newTokens(t)
	app := newBooksApp(t, tm)
	authz := bearer(t, tm, "reader@example.com")
	for i := range 3 {
		app.seed(t, fmt.Sprintf("Book %d", i))
	}

	rec := send(t, app.handler, http.MethodGet, "/books?page=2&page_size=2", nil, "Authorization", authz)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[ListResponse[domain.Book]](t, rec)
	assert.Equal(t, 2, list.Page)
	assert.Equal(t, 3, list.Total)
	require.Len(t, list.Results, 1)
	assert.Equal(t, "Book 2", list.Results[0].Title)

	rec = send(t, app.handler, http.MethodGet, "/books?page_size=500", nil, "Authorization", authz)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.MaxPageSize, decode[ListResponse[domain.Book]](t, rec).PageSize)

	for _, q := range []string{"page=0", "page_size=0", "page=abc"} {
		rec = send(t, app.handler, http.MethodGet, "/books?"+q, nil, "Authorization", authz)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}

	rec = send(t, app.handler, http.MethodGet, "/books?page=9", nil, "Authorization", authz)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[ListResponse[domain.Book]](t, rec).Results)
}

func TestBooks_Availability(t *testing.T) {
	tm := newTokens(t)
	app := newBooksApp(t, tm)
	book := app.seed(t, "Dune")
	path := fmt.Sprintf("/books/%d/availability", book.ID)

	rec := send(t, app.handler, http.MethodPatch, path,
		map[string]any{"is_available": false, "expected_available": true}, middleware.InternalAPIKeyHeader, internalKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, decode[domain.Book](t, rec).IsAvailable)

	// the compare-and-swap fails once the book is out
	rec = send(t, app.handler, http.MethodPatch, path,
		map[string]any{"is_available": false, "expected_available": true}, middleware.InternalAPIKeyHeader, internalKey)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, app.available(t, book.ID))

	rec = send(t, app.handler, http.MethodPatch, path, map[string]any{"is_available": true}, "Authorization", bearer(t, tm, "a@example.com"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, app.available(t, book.ID))

	rec = send(t, app.handler, http.MethodPatch, "/books/99/availability", map[string]any{"is_available": true}, middleware.InternalAPIKeyHeader, internalKey)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = send(t, app.handler, http.MethodPatch, path, map[string]any{}, middleware.InternalAPIKeyHeader, internalKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBooks_Auth(t *testing.T) {
	tm := newTokens(t)
	app := newBooksApp(t, tm)
	book := app.seed(t, "Dune")

	rec := send(t, app.handler, http.MethodGet, "/books", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))

	rec = send(t, app.handler, http.MethodGet, "/books", nil, "Authorization", "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = send(t, app.handler, http.MethodGet, fmt.Sprintf("/books/%d", book.ID), nil, middleware.InternalAPIKeyHeader, "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = send(t, app.handler, http.MethodGet, fmt.Sprintf("/books/%d", book.ID), nil, middleware.InternalAPIKeyHeader, internalKey)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBooks_SyncLoan(t *testing.T) {
	tm := newTokens(t)
	app := newBooksApp(t, tm)
	book := app.seed(t, "Dune")
	path := fmt.Sprintf("/books/%d/loans/7", book.ID)
	body := map[string]any{"id": 7, "user_id": 3, "book_id": book.ID, "borrowed_at": time.Now().UTC(), "returned_at": nil}

	rec := send(t, app.handler, http.MethodPut, path, body, "Authorization", bearer(t, tm, "a@example.com"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = send(t, app.handler, http.MethodPut, path, body, middleware.InternalAPIKeyHeader, internalKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, app.loans.Len())

	rec = send(t, app.handler, http.MethodPut, fmt.Sprintf("/books/%d/loans/8", book.ID), body, middleware.InternalAPIKeyHeader, internalKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = send(t, app.handler, http.MethodDelete, fmt.Sprintf("/books/%d", book.ID), nil, middleware.InternalAPIKeyHeader, internalKey)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, app.loans.Len())
}

func TestBooks_RejectsNonJSON(t *testing.T) {
	tm := newTokens(t)
	app := newBooksApp(t, tm)

	req := `title=Dune`
	rec := sendRaw(t, app.handler, http.MethodPost, "/books", req, "application/x-www-form-urlencoded", "Authorization", bearer(t, tm, "a@example.com"))
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}
