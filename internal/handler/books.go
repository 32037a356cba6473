package handler

import (
	"log/slog"
	"net/http"

	"github.com/rfichi/borrowed-book-api/internal/domain"
	"github.com/rfichi/borrowed-book-api/internal/security/middleware"
	"github.com/rfichi/borrowed-book-api/internal/service"
)

// BookHandler serves the books directory
type BookHandler struct {
	books  *service.BookService
	logger *slog.Logger
}

// NewBookHandler creates a new book handler
func NewBookHandler(books *service.BookService, logger *slog.Logger) *BookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BookHandler{books: books, logger: logger}
}

// CreateBookRequest is the body of POST /books
type CreateBookRequest struct {
	Title         string `json:"title"`
	Author        string `json:"author"`
	PublishedYear int    `json:"published_year"`
}

// UpdateAvailabilityRequest is the body of PATCH /books/{id}/availability
type UpdateAvailabilityRequest struct {
	IsAvailable       bool  `json:"is_available"`
	ExpectedAvailable *bool `json:"expected_available"`
}

// Register adds the book routes
func (h *BookHandler) Register(rt *Router) {
	rt.Handle(Route{Method: http.MethodPost, Path: "/books", Summary: "Create a book", Access: UserOrInternal, Status: http.StatusCreated},
		middleware.ValidateJSONSchema([]string{"title", "author", "published_year"}, h.logger)(http.HandlerFunc(h.Create)))
	rt.Handle(Route{Method: http.MethodGet, Path: "/books", Summary: "List books", Access: UserOrInternal},
		http.HandlerFunc(h.List))
	rt.Handle(Route{Method: http.MethodGet, Path: "/books/{id}", Summary: "Get a book", Access: UserOrInternal},
		http.HandlerFunc(h.Get))
	rt.Handle(Route{Method: http.MethodDelete, Path: "/books/{id}", Summary: "Delete a book and its loan records", Access: UserOrInternal, Status: http.StatusNoContent},
		http.HandlerFunc(h.Delete))
	rt.Handle(Route{Method: http.MethodPatch, Path: "/books/{id}/availability", Summary: "Set availability, optionally compare-and-swap", Access: UserOrInternal},
		middleware.ValidateJSONSchema([]string{"is_available"}, h.logger)(http.HandlerFunc(h.UpdateAvailability)))
	rt.Handle(Route{Method: http.MethodPut, Path: "/books/{id}/loans/{record_id}", Summary: "Store a loan record pushed by the borrow service", Access: Internal},
		http.HandlerFunc(h.SyncLoan))
}

// Create handles POST /books
func (h *BookHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateBookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	book, err := h.books.Create(r.Context(), req.Title, req.Author, req.PublishedYear)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

// List handles GET /books
func (h *BookHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	books, total, err := h.books.List(r.Context(), page)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(page, total, books))
}

// Get handles GET /books/{id}
func (h *BookHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	book, err := h.books.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

// Delete handles DELETE /books/{id}
func (h *BookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if err := h.books.Delete(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateAvailability handles PATCH /books/{id}/availability
func (h *BookHandler) UpdateAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	var req UpdateAvailabilityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	book, err := h.books.SetAvailability(r.Context(), id, req.IsAvailable, req.ExpectedAvailable)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

// SyncLoan handles PUT /books/{id}/loans/{record_id}
func (h *BookHandler) SyncLoan(w http.ResponseWriter, r *http.Request) {
	bookID, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	record, err := decodeSyncedRecord(r)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if err := h.books.SyncLoan(r.Context(), bookID, record); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// decodeSyncedRecord reads a pushed loan record whose id must match {record_id}
func decodeSyncedRecord(r *http.Request) (*domain.BorrowRecord, error) {
	recordID, err := pathID(r, "record_id")
	if err != nil {
		return nil, err
	}
	record := &domain.BorrowRecord{}
	if err := decodeJSON(r, record); err != nil {
		return nil, err
	}
	if record.ID == 0 {
		record.ID = recordID
	}
	if record.ID != recordID {
		return nil, domain.NewValidationError("id", "does not match the path")
	}
	return record, nil
}
