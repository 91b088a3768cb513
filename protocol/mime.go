package protocol

import (
	"path"
	"strings"
)

var mimeTypes = map[string]string{
	"html": "text/html",
	"htm":  "text/html",
	"css":  "text/css",
	"js":   "application/javascript",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"ico":  "image/x-icon",
	"mp4":  "video/mp4",
	"json": "application/json",
}

// MimeType maps a file name to its content type by extension. Names without
// an extension are text/plain, unknown extensions application/octet-stream.
func MimeType(name string) string {
	ext := path.Ext(name)
	if ext == "" {
		return "text/plain"
	}
	if mt, ok := mimeTypes[strings.ToLower(ext[1:])]; ok {
		return mt
	}
	return "application/octet-stream"
}
