package handlers

import (
	"context"
	"io/fs"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/nczempin/minihttpd/files"
	"github.com/nczempin/minihttpd/protocol"
)

const staticNotFound = "<h1>404 - Not Found</h1><p>The file or path was not found on the server.</p>"

// ServeStatic delivers files for retrievals that match no route: "/" is the
// web root's index.html, /files/<name> comes from the upload root and any
// other path with an extension from the web root.
func (h *Handlers) ServeStatic(ctx context.Context, req *protocol.Request) *protocol.Response {
	root, name, ok := h.resolve(req.Path)
	if !ok {
		return protocol.HTML(404, staticNotFound)
	}

	rc, size, err := root.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return protocol.HTML(404, staticNotFound)
		}
		zerolog.Ctx(ctx).Error().Err(err).Str("file", name).Msg("open static file failed")
		return protocol.HTML(500, "<h1>500</h1><p>The file could not be read.</p>")
	}

	return protocol.Cached(protocol.MimeType(name), size, rc)
}

// resolve maps a request path onto a root and a name inside it
func (h *Handlers) resolve(urlPath string) (files.FS, string, bool) {
	if urlPath == "/" {
		return h.web, "index.html", true
	}

	name, ok := files.CleanPath(urlPath)
	if !ok {
		return nil, "", false
	}
	if rest, found := strings.CutPrefix(name, "files/"); found {
		return h.uploads, rest, rest != ""
	}
	if strings.Contains(name, ".") {
		return h.web, name, true
	}
	return nil, "", false
}
