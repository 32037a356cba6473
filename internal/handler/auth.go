package handler

import (
	"log/slog"
	"mime"
	"net/http"

	"github.com/rfichi/borrowed-book-api/internal/security/middleware"
	"github.com/rfichi/borrowed-book-api/internal/service"
)

// TokenPath accepts form-encoded bodies as well as JSON
const TokenPath = "/auth/token"

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authService *service.AuthService
	logger      *slog.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *service.AuthService, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &AuthHandler{
		authService: authService,
		logger:      logger,
	}
}

// SignupRequest represents a registration request
type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenRequest is the JSON form of a login. Username is accepted as an alias
// for email so that OAuth2 password-flow clients work unchanged.
type TokenRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func signupSchema(logger *slog.Logger) func(http.Handler) http.Handler {
	return middleware.ValidateJSONSchema([]string{"name", "email", "password"}, logger)
}

// Register adds the auth routes
func (h *AuthHandler) Register(rt *Router) {
	rt.Handle(Route{Method: http.MethodPost, Path: "/auth/signup", Summary: "Register a user", Access: Public, Status: http.StatusCreated},
		signupSchema(h.logger)(http.HandlerFunc(h.Signup)))
	rt.Handle(Route{Method: http.MethodPost, Path: TokenPath, Summary: "Exchange credentials for a bearer token", Access: Public},
		http.HandlerFunc(h.Token))
	rt.Handle(Route{Method: http.MethodGet, Path: "/auth/me", Summary: "The authenticated user", Access: User},
		http.HandlerFunc(h.Me))
}

// Signup handles POST /auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.Warn("failed to decode signup request", slog.String("error", err.Error()))
		writeServiceError(w, h.logger, err)
		return
	}

	user, err := h.authService.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// Token handles POST /auth/token
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			writeDetail(w, http.StatusBadRequest, "invalid form body")
			return
		}
		req.Username = r.PostForm.Get("username")
		req.Password = r.PostForm.Get("password")
	} else if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	email := req.Email
	if email == "" {
		email = req.Username
	}
	result, err := h.authService.Login(r.Context(), email, req.Password)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Me handles GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	user, err := h.authService.Me(r.Context(), p.Email)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
