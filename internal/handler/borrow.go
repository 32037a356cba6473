package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/rfichi/borrowed-book-api/internal/domain"
	"github.com/rfichi/borrowed-book-api/internal/security/middleware"
	"github.com/rfichi/borrowed-book-api/internal/service"
)

// IdempotencyKeyHeader makes a borrow safe to retry
const IdempotencyKeyHeader = "Idempotency-Key"

const maxIdempotencyKeyLen = 255

// BorrowHandler serves the borrow coordinator
type BorrowHandler struct {
	borrow *service.BorrowService
	logger *slog.Logger
}

// NewBorrowHandler creates a new borrow handler
func NewBorrowHandler(borrow *service.BorrowService, logger *slog.Logger) *BorrowHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BorrowHandler{borrow: borrow, logger: logger}
}

// LoanRequest is the body of the borrow and return endpoints
type LoanRequest struct {
	UserID int64 `json:"user_id"`
}

// Register adds the borrow routes
func (h *BorrowHandler) Register(rt *Router) {
	userIDSchema := middleware.ValidateJSONSchema([]string{"user_id"}, h.logger)

	rt.Handle(Route{Method: http.MethodPost, Path: "/borrow/{book_id}/borrow", Summary: "Lend a book to a user", Access: User, Status: http.StatusAccepted},
		userIDSchema(http.HandlerFunc(h.Borrow)))
	rt.Handle(Route{Method: http.MethodPost, Path: "/borrow/{book_id}/return", Summary: "Close the user's active loan of a book", Access: User, Status: http.StatusAccepted},
		userIDSchema(http.HandlerFunc(h.Return)))
	rt.Handle(Route{Method: http.MethodGet, Path: "/borrow/records/{id}", Summary: "Get a borrow record", Access: UserOrInternal},
		http.HandlerFunc(h.GetRecord))
	rt.Handle(Route{Method: http.MethodGet, Path: "/borrow/users/{user_id}/records", Summary: "List a user's borrow records, newest first", Access: UserOrInternal},
		http.HandlerFunc(h.UserRecords))
	rt.Handle(Route{Method: http.MethodGet, Path: "/borrow/books/{book_id}/active", Summary: "The active loan of a book", Access: UserOrInternal},
		http.HandlerFunc(h.ActiveForBook))
}

// Borrow handles POST /borrow/{book_id}/borrow
func (h *BorrowHandler) Borrow(w http.ResponseWriter, r *http.Request) {
	bookID, req, ok := h.loanRequest(w, r)
	if !ok {
		return
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if len(key) > maxIdempotencyKeyLen {
		writeDetail(w, http.StatusBadRequest, "Idempotency-Key is too long")
		return
	}

	record, err := h.borrow.Borrow(r.Context(), bookID, req.UserID, key)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, record)
}

// Return handles POST /borrow/{book_id}/return
func (h *BorrowHandler) Return(w http.ResponseWriter, r *http.Request) {
	bookID, req, ok := h.loanRequest(w, r)
	if !ok {
		return
	}

	record, err := h.borrow.Return(r.Context(), bookID, req.UserID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, record)
}

func (h *BorrowHandler) loanRequest(w http.ResponseWriter, r *http.Request) (int64, LoanRequest, bool) {
	var req LoanRequest
	bookID, err := pathID(r, "book_id")
	if err == nil {
		err = decodeJSON(r, &req)
	}
	if err == nil && req.UserID < 1 {
		err = domain.NewValidationError("user_id", "must be a positive integer")
	}
	if err != nil {
		writeServiceError(w, h.logger, err)
		return 0, req, false
	}
	return bookID, req, true
}

// GetRecord handles GET /borrow/records/{id}
func (h *BorrowHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	record, err := h.borrow.GetRecord(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// UserRecords handles GET /borrow/users/{user_id}/records
func (h *BorrowHandler) UserRecords(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "user_id")
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	records, err := h.borrow.UserRecords(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// ActiveForBook handles GET /borrow/books/{book_id}/active
func (h *BorrowHandler) ActiveForBook(w http.ResponseWriter, r *http.Request) {
	bookID, err := pathID(r, "book_id")
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	record, err := h.borrow.ActiveForBook(r.Context(), bookID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}
