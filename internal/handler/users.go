package handler

import (
	"log/slog"
	"net/http"

	"github.com/rfichi/borrowed-book-api/internal/service"
)

// UserHandler serves the users directory
type UserHandler struct {
	users  *service.UserService
	auth   *service.AuthService
	logger *slog.Logger
}

// NewUserHandler creates a new user handler
func NewUserHandler(users *service.UserService, auth *service.AuthService, logger *slog.Logger) *UserHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserHandler{users: users, auth: auth, logger: logger}
}

// Register adds the user routes
func (h *UserHandler) Register(rt *Router) {
	rt.Handle(Route{Method: http.MethodGet, Path: "/users", Summary: "List users", Access: User},
		http.HandlerFunc(h.List))
	rt.Handle(Route{Method: http.MethodPost, Path: "/users", Summary: "Create a user with credentials", Access: User, Status: http.StatusCreated},
		signupSchema(h.logger)(http.HandlerFunc(h.Create)))
	rt.Handle(Route{Method: http.MethodGet, Path: "/users/{id}", Summary: "Get a user", Access: UserOrInternal},
		http.HandlerFunc(h.Get))
	rt.Handle(Route{Method: http.MethodGet, Path: "/users/{id}/borrow-history", Summary: "List the user's loans, newest first", Access: User},
		http.HandlerFunc(h.BorrowHistory))
	rt.Handle(Route{Method: http.MethodPut, Path: "/users/{id}/borrow-history/{record_id}", Summary: "Store a loan record pushed by the borrow service", Access: Internal},
		http.HandlerFunc(h.SyncLoan))
}

// Get handles GET /users/{id}
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	user, err := h.users.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// List handles GET /users
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	users, total, err := h.users.List(r.Context(), page)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(page, total, users))
}

// Create handles POST /users
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	user, err := h.auth.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// BorrowHistory handles GET /users/{id}/borrow-history
func (h *UserHandler) BorrowHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	records, err := h.users.BorrowHistory(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// SyncLoan handles PUT /users/{id}/borrow-history/{record_id}
func (h *UserHandler) SyncLoan(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	record, err := decodeSyncedRecord(r)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if err := h.users.SyncLoan(r.Context(), userID, record); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}
