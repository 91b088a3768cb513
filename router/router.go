// Package router maps a request's method and path to a handler. The table is
// filled once before serving and only read afterwards.
package router

import (
	"context"
	"strings"

	"github.com/nczempin/minihttpd/protocol"
)

// Handler produces the response for one request. It must not write to the
// connection itself.
type Handler func(ctx context.Context, req *protocol.Request) *protocol.Response

// Route is the result of a match
type Route struct {
	Handler Handler

	// Streaming routes read req.BodyStream themselves; all other routes get
	// the completed body in req.Body.
	Streaming bool

	// Pattern is the registered path (or prefix) for logging.
	Pattern string
}

type key struct {
	method string
	path   string
}

type prefixRoute struct {
	method string
	prefix string
	route  Route
}

// Router holds exact routes, prefix families and the fallbacks
type Router struct {
	exact    map[key]Route
	prefixes []prefixRoute
	static   Handler
	notFound Handler
}

// New creates a router whose unmatched requests go to notFound
func New(notFound Handler) *Router {
	return &Router{
		exact:    make(map[key]Route),
		notFound: notFound,
	}
}

// Handle registers an exact (method, path) route
func (r *Router) Handle(method, path string, h Handler) {
	r.exact[key{method, path}] = Route{Handler: h, Pattern: path}
}

// HandleStream registers an exact route that consumes its body as a stream
func (r *Router) HandleStream(method, path string, h Handler) {
	r.exact[key{method, path}] = Route{Handler: h, Streaming: true, Pattern: path}
}

// HandlePrefix registers a route for every path starting with prefix. The
// handler receives the full path and extracts the trailing segment itself.
func (r *Router) HandlePrefix(method, prefix string, h Handler) {
	r.prefixes = append(r.prefixes, prefixRoute{
		method: method,
		prefix: prefix,
		route:  Route{Handler: h, Pattern: prefix},
	})
}

// Static sets the handler for GET and HEAD requests that match no route
func (r *Router) Static(h Handler) {
	r.static = h
}

// Match returns the route for method and path. Exact routes win over
// prefixes; unmatched retrievals go to the static handler, everything else
// to the not-found handler.
func (r *Router) Match(method, path string) Route {
	if route, ok := r.exact[key{method, path}]; ok {
		return route
	}

	for _, p := range r.prefixes {
		if p.method == method && strings.HasPrefix(path, p.prefix) {
			return p.route
		}
	}

	if r.static != nil && (method == "GET" || method == "HEAD") {
		return Route{Handler: r.static, Pattern: "static"}
	}
	return Route{Handler: r.notFound, Pattern: "not-found"}
}

// TrailingSegment returns what follows prefix in path, or "" when path does
// not start with prefix.
func TrailingSegment(path, prefix string) string {
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	return path[len(prefix):]
}
