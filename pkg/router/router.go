// Package router maps (method, path) pairs to handlers using path templates.
//
// Routes are tried in registration order for the request method and the
// first match wins, so a literal route must be registered before any
// parameterised route that would also match it. Registering the same method
// and template twice replaces the handler in place.
package router

import (
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
)

// Methods lists the HTTP methods a Router accepts, in resolution order.
var Methods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodHead,
}

// Handler serves a routed request. It either writes a complete response and
// returns nil, or returns an error and leaves the response untouched.
type Handler func(w http.ResponseWriter, r *http.Request, p Params) error

// Outcome is the result class of a resolution.
type Outcome int

const (
	Matched Outcome = iota
	NotFound
	MethodNotAllowed
)

func (o Outcome) String() string {
	switch o {
	case Matched:
		return "matched"
	case NotFound:
		return "not_found"
	case MethodNotAllowed:
		return "method_not_allowed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Resolution is what Resolve produces for one request.
type Resolution struct {
	Outcome Outcome
	Handler Handler
	Params  Params
	// Pattern is the template of the matched route, empty unless Matched.
	Pattern string
	// Allowed lists the methods under which the path exists. Set for
	// MethodNotAllowed.
	Allowed []string
}

// RouteInfo describes a registered route.
type RouteInfo struct {
	Method  string
	Pattern string
}

type route struct {
	pattern *Pattern
	handler Handler
}

// Router is a method-indexed route table.
type Router struct {
	mu     sync.RWMutex
	routes map[string][]*route
	logger *slog.Logger
}

// New creates an empty router.
func New() *Router {
	return &Router{
		routes: make(map[string][]*route),
		logger: slog.With("component", "router"),
	}
}

// Add registers h for method and template.
func (rt *Router) Add(method, template string, h Handler) error {
	method = strings.ToUpper(method)
	if !slices.Contains(Methods, method) {
		return fmt.Errorf("route %s %s: unsupported method", method, template)
	}
	if h == nil {
		return fmt.Errorf("route %s %s: nil handler", method, template)
	}
	p, err := Compile(template)
	if err != nil {
		return err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	for _, existing := range rt.routes[method] {
		if existing.pattern.String() == template {
			existing.handler = h
			return nil
		}
	}

	// A literal route after a broader one that already matches it is dead.
	if p.Static() {
		for _, existing := range rt.routes[method] {
			if _, ok := existing.pattern.Match(template); ok {
				rt.logger.Warn("route shadowed", "method", method, "route", template, "by", existing.pattern.String())
				break
			}
		}
	}

	rt.routes[method] = append(rt.routes[method], &route{pattern: p, handler: h})
	return nil
}

// MustAdd is like Add but panics on error. Intended for startup wiring.
func (rt *Router) MustAdd(method, template string, h Handler) {
	if err := rt.Add(method, template, h); err != nil {
		panic(err)
	}
}

// Resolve finds the handler for method and path. It does not modify the router.
func (rt *Router) Resolve(method, path string) Resolution {
	path, _, _ = strings.Cut(path, "?")
	method = strings.ToUpper(method)

	rt.mu.RLock()
	defer rt.mu.RUnlock()

	if slices.Contains(Methods, method) {
		for _, r := range rt.routes[method] {
			if params, ok := r.pattern.Match(path); ok {
				return Resolution{
					Outcome: Matched,
					Handler: r.handler,
					Params:  params,
					Pattern: r.pattern.String(),
				}
			}
		}
	}

	var allowed []string
	for _, m := range Methods {
		if m == method {
			continue
		}
		for _, r := range rt.routes[m] {
			if _, ok := r.pattern.Match(path); ok {
				allowed = append(allowed, m)
				break
			}
		}
	}

	if len(allowed) > 0 || !slices.Contains(Methods, method) {
		return Resolution{Outcome: MethodNotAllowed, Allowed: allowed}
	}
	return Resolution{Outcome: NotFound}
}

// Routes returns the registered routes in resolution order.
func (rt *Router) Routes() []RouteInfo {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	var out []RouteInfo
	for _, m := range Methods {
		for _, r := range rt.routes[m] {
			out = append(out, RouteInfo{Method: m, Pattern: r.pattern.String()})
		}
	}
	return out
}
