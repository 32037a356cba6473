package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/rfichi/borrowed-book-api/internal/domain"
)

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// ListResponse is the paginated list envelope
type ListResponse[T any] struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Total    int `json:"total"`
	Results  []T `json:"results"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail})
}

// specific errors get a fixed client-facing message; checked in order
var errorReplies = []struct {
	err    error
	status int
	detail string
}{
	{domain.ErrUserNotFound, http.StatusNotFound, "User not found"},
	{domain.ErrBookNotFound, http.StatusNotFound, "Book not found"},
	{domain.ErrRecordNotFound, http.StatusNotFound, "Borrow record not found"},
	{domain.ErrNoActiveLoan, http.StatusNotFound, "Active borrow record not found"},
	{domain.ErrBookAlreadyBorrowed, http.StatusForbidden, "Book already borrowed"},
	{domain.ErrAvailabilityMismatch, http.StatusConflict, "Book availability does not match expected_available"},
	{domain.ErrRequestInProgress, http.StatusConflict, "A request with this Idempotency-Key is still in progress"},
	{domain.ErrEmailTaken, http.StatusBadRequest, "Email already registered"},
	{domain.ErrInvalidCredentials, http.StatusUnauthorized, "Incorrect email or password"},
}

// writeServiceError maps a service error onto a status code and detail
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	for _, e := range errorReplies {
		if errors.Is(err, e.err) {
			if e.status == http.StatusUnauthorized {
				w.Header().Set("WWW-Authenticate", "Bearer")
			}
			writeDetail(w, e.status, e.detail)
			return
		}
	}

	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeDetail(w, http.StatusBadRequest, vErr.Error())
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrAlreadyExists):
		writeDetail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeDetail(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeDetail(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		logger.Warn("upstream unavailable", slog.String("error", err.Error()))
		writeDetail(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, domain.ErrUpstreamError):
		logger.Error("upstream error", slog.String("error", err.Error()))
		writeDetail(w, http.StatusInternalServerError, err.Error())
	default:
		logger.Error("request failed", slog.String("error", err.Error()))
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return domain.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id < 1 {
		return 0, domain.NewValidationError(name, "must be a positive integer")
	}
	return id, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.NewValidationError(name, fmt.Sprintf("%q is not an integer", raw))
	}
	return v, nil
}

// pageFromQuery reads page and page_size, 1-indexed
func pageFromQuery(r *http.Request) (domain.Page, error) {
	number, err := queryInt(r, "page", 1)
	if err != nil {
		return domain.Page{}, err
	}
	size, err := queryInt(r, "page_size", domain.DefaultPageSize)
	if err != nil {
		return domain.Page{}, err
	}
	return domain.NewPage(number, size)
}

func newListResponse[T any](page domain.Page, total int, results []T) ListResponse[T] {
	if results == nil {
		results = []T{}
	}
	return ListResponse[T]{Page: page.Number, PageSize: page.Size, Total: total, Results: results}
}
