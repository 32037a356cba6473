package handler

import (
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rfichi/borrowed-book-api/internal/security/auth"
	"github.com/rfichi/borrowed-book-api/internal/security/middleware"
	"github.com/rfichi/borrowed-book-api/pkg/cache"
)

// DocsConfig configures the docs endpoints
type DocsConfig struct {
	Title     string
	Version   string
	Username  string
	Password  string
	UserEmail string
}

// DocsHandler serves a Swagger UI page and the OpenAPI document, both behind
// basic auth. The page is pre-authorised with a bearer token for the docs user.
type DocsHandler struct {
	cfg    DocsConfig
	tokens *auth.TokenManager
	routes func() []Route
	cache  *cache.Cache[string]
	logger *slog.Logger
}

// NewDocsHandler creates a docs handler. routes is read on each request so
// routes registered after construction are included.
func NewDocsHandler(cfg DocsConfig, tokens *auth.TokenManager, routes func() []Route, logger *slog.Logger) *DocsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocsHandler{
		cfg:    cfg,
		tokens: tokens,
		routes: routes,
		cache:  cache.New[string](),
		logger: logger,
	}
}

// Register adds /docs and /openapi.json
func (h *DocsHandler) Register(rt *Router) {
	rt.HandleOperational("GET /docs", h.basicAuth(http.HandlerFunc(h.Page)))
	rt.HandleOperational("GET /openapi.json", h.basicAuth(http.HandlerFunc(h.OpenAPI)))
}

func (h *DocsHandler) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.CheckBasicAuth(r, h.cfg.Username, h.cfg.Password) {
			h.logger.Warn("docs access denied", slog.String("path", r.URL.Path))
			w.Header().Set("WWW-Authenticate", `Basic realm="docs"`)
			writeDetail(w, http.StatusUnauthorized, "Incorrect username or password")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// docsToken is reused until shortly before it expires
func (h *DocsHandler) docsToken() (string, error) {
	ttl := h.tokens.TTL() - time.Minute
	if ttl <= 0 {
		ttl = h.tokens.TTL() / 2
	}
	return h.cache.GetOrLoad("docs:"+h.cfg.UserEmail, ttl, func() (string, error) {
		return h.tokens.GenerateToken(h.cfg.UserEmail)
	})
}

var pageTemplate = template.Must(template.New("docs").Parse(`<!DOCTYPE html>
<html>
<head>
<title>{{.Title}}</title>
<link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
<script>
const ui = SwaggerUIBundle({
  url: "/openapi.json",
  dom_id: "#swagger-ui",
  persistAuthorization: true,
  onComplete: function () {
    ui.preauthorizeApiKey("bearerAuth", {{.Token}});
  },
});
</script>
</body>
</html>
`))

// Page handles GET /docs
func (h *DocsHandler) Page(w http.ResponseWriter, r *http.Request) {
	token, err := h.docsToken()
	if err != nil {
		h.logger.Error("failed to issue docs token", slog.String("error", err.Error()))
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := pageTemplate.Execute(w, struct{ Title, Token string }{h.cfg.Title, token}); err != nil {
		h.logger.Error("failed to render docs page", slog.String("error", err.Error()))
	}
}

// OpenAPI handles GET /openapi.json
func (h *DocsHandler) OpenAPI(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, buildOpenAPI(h.cfg.Title, h.cfg.Version, h.routes()))
}

func buildOpenAPI(title, version string, routes []Route) map[string]any {
	paths := map[string]map[string]any{}
	for _, rt := range routes {
		op := map[string]any{
			"summary": rt.Summary,
			"responses": map[string]any{
				strconv.Itoa(rt.Status): map[string]any{"description": http.StatusText(rt.Status)},
			},
		}
		if params := pathParams(rt.Path); len(params) > 0 {
			op["parameters"] = params
		}
		switch rt.Access {
		case User:
			op["security"] = []map[string][]string{{"bearerAuth": {}}}
		case UserOrInternal:
			op["security"] = []map[string][]string{{"bearerAuth": {}}, {"internalKey": {}}}
		case Internal:
			op["security"] = []map[string][]string{{"internalKey": {}}}
		}
		if paths[rt.Path] == nil {
			paths[rt.Path] = map[string]any{}
		}
		paths[rt.Path][strings.ToLower(rt.Method)] = op
	}

	return map[string]any{
		"openapi": "3.0.3",
		"info":    map[string]string{"title": title, "version": version},
		"paths":   paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"bearerAuth":  map[string]string{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"},
				"internalKey": map[string]string{"type": "apiKey", "in": "header", "name": middleware.InternalAPIKeyHeader},
			},
		},
	}
}

func pathParams(path string) []map[string]any {
	var params []map[string]any
	for _, seg := range strings.Split(path, "/") {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			params = append(params, map[string]any{
				"name":     strings.Trim(seg, "{}"),
				"in":       "path",
				"required": true,
				"schema":   map[string]string{"type": "integer"},
			})
		}
	}
	return params
}
