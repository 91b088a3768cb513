package handlers

import (
	"context"
	"html"
	"io/fs"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	httperrors "github.com/nczempin/minihttpd/errors"
	"github.com/nczempin/minihttpd/files"
	"github.com/nczempin/minihttpd/protocol"
	"github.com/nczempin/minihttpd/router"
)

const filesPrefix = "/files/"

const filesPageHead = `<!DOCTYPE html><html><head><title>File manager</title><link rel="stylesheet" href="/style.css"></head><body class="list-files-section">` +
	`<h1>File manager</h1>` +
	`<p>Uploaded files are stored in the upload directory. Uploads are streamed to disk.</p>` +
	`<h2>Upload a new file</h2>` +
	`<div class="upload-box">` +
	`<input type="file" id="fileInput" required>` +
	`<button onclick="uploadFile()">Upload</button>` +
	`<span id="uploadStatus" style="margin-left: 15px; font-weight: bold;"></span>` +
	`</div>` +
	`<h2>Stored files</h2><ul>`

const filesPageTail = `</ul>` +
	`<script>` +
	`function uploadFile() {` +
	`const fileInput = document.getElementById('fileInput');` +
	`const statusSpan = document.getElementById('uploadStatus');` +
	`const file = fileInput.files[0];` +
	`if (!file) { alert('Please choose a file.'); return; }` +
	`statusSpan.textContent = 'Uploading...';` +
	`const xhr = new XMLHttpRequest();` +
	`xhr.open('POST', '/upload', true);` +
	`xhr.setRequestHeader('Content-Type', 'application/octet-stream');` +
	`xhr.onload = function() {` +
	`let response = {error: 'Unknown error'};` +
	`try { response = JSON.parse(xhr.responseText); } catch(e) {}` +
	`if (xhr.status === 200) {` +
	`statusSpan.textContent = 'Upload complete';` +
	`setTimeout(() => { window.location.reload(); }, 1500);` +
	`} else {` +
	`statusSpan.textContent = 'Upload failed';` +
	`alert('Upload failed: ' + (response.error || 'Server Error.'));` +
	`}` +
	`};` +
	`xhr.onerror = function() { statusSpan.textContent = 'Network error'; };` +
	`xhr.send(file);` +
	`}` +
	`function deleteFile(filename) {` +
	`if (!confirm('Delete ' + filename + ' permanently?')) { return; }` +
	`const xhr = new XMLHttpRequest();` +
	`xhr.open('DELETE', '/files/' + encodeURIComponent(filename), true);` +
	`xhr.onload = function() {` +
	`const response = JSON.parse(xhr.responseText);` +
	`if (xhr.status === 200) { window.location.reload(); } else { alert('Delete failed: ' + response.error); }` +
	`};` +
	`xhr.send();` +
	`}` +
	`</script>` +
	`<p><a href="/">Back to the home page</a></p>` +
	`</body></html>`

// ListFiles renders the file manager page for the upload root
func (h *Handlers) ListFiles(ctx context.Context, req *protocol.Request) *protocol.Response {
	var b strings.Builder
	b.WriteString(filesPageHead)

	names, err := h.uploads.List()
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("list upload directory failed")
		b.WriteString(`<li>Error: the upload directory cannot be read.</li>`)
	}
	for _, name := range names {
		link := html.EscapeString(filesPrefix + url.PathEscape(name))
		b.WriteString(`<li><a href="` + link + `" target="_blank">` + html.EscapeString(name) + `</a>`)
		b.WriteString(`<button onclick="deleteFile(` + html.EscapeString(strconv.Quote(name)) + `)">Delete</button></li>`)
	}

	b.WriteString(filesPageTail)
	return protocol.HTML(200, b.String())
}

// DeleteFile removes one file from the upload root. Names that could leave
// the root are refused before the filesystem is touched.
func (h *Handlers) DeleteFile(ctx context.Context, req *protocol.Request) *protocol.Response {
	name := router.TrailingSegment(req.Path, filesPrefix)
	if name == "" {
		return jsonError(400, "Filename is missing.")
	}
	if !files.ValidName(name) {
		return jsonError(403, "Security check failed (Invalid characters or Directory Traversal detected).")
	}

	if err := h.uploads.Remove(name); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return jsonError(404, "File not found.")
		}
		zerolog.Ctx(ctx).Error().Err(err).Str("file", name).Msg("delete file failed")
		return jsonError(500, "Could not delete file due to server error.")
	}

	zerolog.Ctx(ctx).Info().Str("file", name).Msg("file deleted")
	return jsonMessage(200, map[string]string{"message": "File deleted successfully."})
}

// Upload streams the request body into a new file under the upload root.
// Every failure after the body started arriving closes the connection,
// since the rest of the body can no longer be told apart from the next
// request.
func (h *Handlers) Upload(ctx context.Context, req *protocol.Request) *protocol.Response {
	if req.ContentLength < 0 {
		return jsonError(400, "Content-Length header is required for upload.")
	}
	if req.ContentLength > h.maxUploadBytes {
		resp := jsonError(413, "File size exceeds "+strconv.FormatInt(h.maxUploadBytes>>20, 10)+"MB limit.")
		resp.Close = true
		return resp
	}

	name, err := h.uploader.Store(req.BodyStream, req.ContentLength)
	if err != nil {
		var resp *protocol.Response
		if httperrors.IsProtocol(err, httperrors.ProtocolErrorIncompleteBody) {
			zerolog.Ctx(ctx).Warn().Err(err).Int64("length", req.ContentLength).Msg("upload interrupted")
			resp = jsonError(500, "Connection lost or incomplete data during upload.")
		} else {
			zerolog.Ctx(ctx).Error().Err(err).Msg("upload failed")
			resp = jsonError(500, "Cannot save file on server disk.")
		}
		resp.Close = true
		return resp
	}

	h.conns.Upload()
	zerolog.Ctx(ctx).Info().Str("file", name).Int64("bytes", req.ContentLength).Msg("upload stored")
	return jsonMessage(200, map[string]string{
		"message": "File uploaded successfully as " + name,
		"path":    filesPrefix + name,
	})
}
