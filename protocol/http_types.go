package protocol

import (
	"io"
	"strings"
)

// Header holds request headers. Keys are lower-cased; a repeated header
// keeps its last value.
type Header map[string]string

// Get returns the value for key, matched case-insensitively
func (h Header) Get(key string) string {
	return h[strings.ToLower(key)]
}

// Has reports whether key is present
func (h Header) Has(key string) bool {
	_, ok := h[strings.ToLower(key)]
	return ok
}

// Request represents one parsed HTTP request
type Request struct {
	Method     string
	Path       string
	Query      string
	Proto      string
	Header     Header
	RemoteAddr string

	// ContentLength is the declared body length, -1 when the header is absent.
	ContentLength int64

	// Body is the completed body. It is only set for routes that buffer.
	Body []byte

	// BodyStream delivers the body incrementally. Streaming routes read it
	// themselves; for buffered routes it is already drained into Body.
	BodyStream *BodyReader
}

// KeepAlive reports whether the connection may serve another request after
// this one. HTTP/1.1 defaults to keep-alive, HTTP/1.0 to close.
func (r *Request) KeepAlive() bool {
	conn := strings.ToLower(r.Header.Get("connection"))
	if conn == "close" {
		return false
	}
	if r.Proto == "HTTP/1.0" {
		return conn == "keep-alive"
	}
	return true
}

// Response represents an HTTP response (in-memory or streamed)
type Response struct {
	Status      int
	ContentType string

	// Body is sent as-is when Stream is nil.
	Body []byte

	// Stream, when set, is copied to the peer after the head; Length is the
	// declared Content-Length. A Stream implementing io.Closer is closed once
	// written.
	Stream io.Reader
	Length int64

	// Cacheable adds a long-lived Cache-Control header.
	Cacheable bool

	// Close forces the connection to close after this response.
	Close bool
}

// ContentLength returns the length announced in the response head
func (r *Response) ContentLength() int64 {
	if r.Stream != nil {
		return r.Length
	}
	return int64(len(r.Body))
}

// NewResponse creates an in-memory response
func NewResponse(status int, contentType string, body []byte) *Response {
	return &Response{
		Status:      status,
		ContentType: contentType,
		Body:        body,
	}
}

// JSON creates an application/json response from an already encoded body
func JSON(status int, body string) *Response {
	return NewResponse(status, "application/json", []byte(body))
}

// HTML creates a text/html response
func HTML(status int, body string) *Response {
	return NewResponse(status, "text/html", []byte(body))
}

// Cached creates a cacheable streamed response for file delivery
func Cached(contentType string, length int64, stream io.Reader) *Response {
	return &Response{
		Status:      200,
		ContentType: contentType,
		Stream:      stream,
		Length:      length,
		Cacheable:   true,
	}
}
