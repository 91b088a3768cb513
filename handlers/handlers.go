// Package handlers implements the request handlers of the server: the users
// API, the file manager, uploads, static files and the visit counter.
package handlers

import (
	"context"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/nczempin/minihttpd/files"
	"github.com/nczempin/minihttpd/flatjson"
	"github.com/nczempin/minihttpd/protocol"
	"github.com/nczempin/minihttpd/router"
	"github.com/nczempin/minihttpd/stats"
	"github.com/nczempin/minihttpd/store"
)

// DefaultMaxUploadBytes caps a single upload at 500 MiB.
const DefaultMaxUploadBytes = 500 << 20

// Options tunes the handlers
type Options struct {
	MaxUploadBytes int64

	// Log receives failures that happen outside a request context, such as
	// removing a partial upload.
	Log zerolog.Logger
}

// Handlers bundles the collaborators shared by all request handlers. It is
// safe for concurrent use by connection workers.
type Handlers struct {
	users          *store.Users
	web            files.FS
	uploads        files.FS
	uploader       *files.Uploader
	counter        *stats.Counter
	conns          *stats.Connections
	maxUploadBytes int64
}

func New(users *store.Users, web, uploads files.FS, counter *stats.Counter, conns *stats.Connections, opts Options) *Handlers {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if conns == nil {
		conns = &stats.Connections{}
	}
	return &Handlers{
		users:          users,
		web:            web,
		uploads:        uploads,
		uploader:       files.NewUploader(uploads, opts.Log),
		counter:        counter,
		conns:          conns,
		maxUploadBytes: opts.MaxUploadBytes,
	}
}

// Register installs every route on r
func (h *Handlers) Register(r *router.Router) {
	r.Handle("GET", "/api/users", h.ListUsers)
	r.Handle("POST", "/api/users", h.CreateUser)
	r.HandlePrefix("PUT", usersPrefix, h.UpdateUser)

	r.Handle("GET", "/files", h.ListFiles)
	r.HandlePrefix("DELETE", filesPrefix, h.DeleteFile)
	r.HandleStream("POST", "/upload", h.Upload)

	r.Handle("GET", "/count", h.Count)
	r.Static(h.ServeStatic)
}

// NotFound answers requests that match no route
func (h *Handlers) NotFound(ctx context.Context, req *protocol.Request) *protocol.Response {
	return protocol.HTML(404, "<h1>404</h1><p>The requested route does not exist.</p>")
}

// Count increments the visit counter and reports the new value
func (h *Handlers) Count(ctx context.Context, req *protocol.Request) *protocol.Response {
	n := h.counter.Increment()
	return protocol.HTML(200, "<h1>Counter</h1><p>This page has been visited "+strconv.FormatInt(n, 10)+" times.</p>")
}

func jsonError(status int, msg string) *protocol.Response {
	return protocol.JSON(status, string(flatjson.Marshal(map[string]string{"error": msg})))
}

func jsonMessage(status int, fields map[string]string) *protocol.Response {
	return protocol.JSON(status, string(flatjson.Marshal(fields)))
}
