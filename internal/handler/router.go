package handler

import (
	"net/http"
	"sort"

	"github.com/rfichi/borrowed-book-api/internal/security/middleware"
)

// Access describes who may call a route
type Access string

const (
	Public         Access = "public"
	User           Access = "user"
	UserOrInternal Access = "user_or_internal"
	Internal       Access = "internal"
)

// Route is one registered endpoint, kept for the OpenAPI document
type Route struct {
	Method  string
	Path    string
	Summary string
	Access  Access
	Status  int
}

// Router wraps a ServeMux and remembers what was registered on it
type Router struct {
	mux    *http.ServeMux
	routes []Route
}

// NewRouter creates an empty router
func NewRouter() *Router {
	return &Router{mux: http.NewServeMux()}
}

// Handle registers h under "METHOD path" behind the route's access check
func (rt *Router) Handle(route Route, h http.Handler) {
	if route.Status == 0 {
		route.Status = http.StatusOK
	}
	rt.mux.Handle(route.Method+" "+route.Path, guard(route.Access, h))
	rt.routes = append(rt.routes, route)
}

func guard(access Access, h http.Handler) http.Handler {
	switch access {
	case User:
		return middleware.RequireUser(h)
	case UserOrInternal:
		return middleware.RequireUserOrInternal(h)
	case Internal:
		return middleware.RequireInternal(h)
	default:
		return h
	}
}

// HandleOperational registers an endpoint that is left out of the API docs
func (rt *Router) HandleOperational(pattern string, h http.Handler) {
	rt.mux.Handle(pattern, h)
}

// Routes returns the documented routes ordered by path then method
func (rt *Router) Routes() []Route {
	out := make([]Route, len(rt.routes))
	copy(out, rt.routes)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Method < out[j].Method
	})
	return out
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.mux.ServeHTTP(w, r)
}
