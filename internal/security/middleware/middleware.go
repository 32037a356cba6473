package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/rfichi/borrowed-book-api/internal/security/audit"
	"github.com/rfichi/borrowed-book-api/internal/security/auth"
	"github.com/rfichi/borrowed-book-api/internal/security/ratelimit"
)

// InternalAPIKeyHeader authenticates service-to-service calls
const InternalAPIKeyHeader = "x-internal-api-key"

// Principal is the authenticated caller of a request
type Principal struct {
	// Email is the token subject; empty for internal callers.
	Email    string
	Internal bool
}

// Subject names the caller for logs and rate limiting
func (p *Principal) Subject() string {
	if p.Internal {
		return "internal"
	}
	return p.Email
}

type principalKey struct{}
type authErrorKey struct{}

var (
	errMissingCredentials = errors.New("not authenticated")
	errInvalidToken       = errors.New("could not validate credentials")
	errInternalOnly       = errors.New("internal callers only")
)

// Authenticate resolves the caller from a bearer token or the internal API
// key. It never rejects on its own; RequireUser and RequireUserOrInternal do.
func Authenticate(tm *auth.TokenManager, internalKey string, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if key := r.Header.Get(InternalAPIKeyHeader); key != "" {
				if auth.CheckAPIKey(key, internalKey) {
					ctx = context.WithValue(ctx, principalKey{}, &Principal{Internal: true})
				} else {
					log.Warn("invalid internal api key", slog.String("path", r.URL.Path))
				}
			}

			if _, ok := ctx.Value(principalKey{}).(*Principal); !ok {
				if header := r.Header.Get("Authorization"); header != "" {
					token, err := auth.ExtractToken(header)
					if err == nil {
						var claims *auth.Claims
						claims, err = tm.ValidateToken(token)
						if err == nil {
							ctx = context.WithValue(ctx, principalKey{}, &Principal{Email: claims.Email()})
						}
					}
					if err != nil {
						ctx = context.WithValue(ctx, authErrorKey{}, errInvalidToken)
					}
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireUser admits bearer-token callers only
func RequireUser(next http.Handler) http.Handler {
	return requirePrincipal(next, false)
}

// RequireUserOrInternal admits bearer-token callers and peer services
func RequireUserOrInternal(next http.Handler) http.Handler {
	return requirePrincipal(next, true)
}

// RequireInternal admits peer services only
func RequireInternal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := GetPrincipal(r.Context())
		if p == nil {
			unauthorized(w, authError(r.Context()))
			return
		}
		if !p.Internal {
			writeDetail(w, http.StatusForbidden, errInternalOnly.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requirePrincipal(next http.Handler, allowInternal bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := GetPrincipal(r.Context())
		if p == nil || (p.Internal && !allowInternal) {
			unauthorized(w, authError(r.Context()))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func authError(ctx context.Context) error {
	if err, ok := ctx.Value(authErrorKey{}).(error); ok {
		return err
	}
	return errMissingCredentials
}

func unauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeDetail(w, http.StatusUnauthorized, err.Error())
}

// RateLimitMiddleware limits each caller; peer services are not limited
func RateLimitMiddleware(limiter *ratelimit.Limiter, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isOperational(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			key := clientIP(r)
			if p := GetPrincipal(r.Context()); p != nil {
				if p.Internal {
					next.ServeHTTP(w, r)
					return
				}
				key = p.Subject()
			}

			if !limiter.Allow(key) {
				log.Warn("rate limit exceeded", slog.String("client", key), slog.String("path", r.URL.Path))
				w.Header().Set("Retry-After", limiter.RetryAfterSeconds())
				writeDetail(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// AuditMiddleware records every state-changing request once it has completed
func AuditMiddleware(auditLog *audit.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			sw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			actor := "anonymous"
			if p := GetPrincipal(r.Context()); p != nil {
				actor = p.Subject()
			}
			action := r.Pattern
			if action == "" {
				action = r.Method + " " + r.URL.Path
			}
			auditLog.LogAction(r.Context(), audit.Entry{
				Actor:      actor,
				Action:     action,
				Path:       r.URL.Path,
				StatusCode: sw.status,
				RequestID:  GetRequestID(r.Context()),
			})
		})
	}
}

// GetPrincipal returns the authenticated caller, or nil
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(principalKey{}).(*Principal); ok {
		return p
	}
	return nil
}

// WithPrincipal is used by tests and in-process callers
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func isOperational(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusRecorder) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
