package protocol

import (
	"strconv"
)

var statusText = map[int]string{
	200: "OK",
	201: "Created",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	408: "Request Timeout",
	413: "Payload Too Large",
	500: "Internal Server Error",
}

// CacheControl is sent with cacheable (static and uploaded file) responses.
const CacheControl = "public, max-age=604800"

// StatusText returns the reason phrase for code, "Unknown" for codes outside
// the table.
func StatusText(code int) string {
	if text, ok := statusText[code]; ok {
		return text
	}
	return "Unknown"
}

// BuildHead formats the status line and headers of resp, ending with the
// blank line. keepAlive selects the Connection header; a response with
// Close set always announces close.
func BuildHead(resp *Response, keepAlive bool) []byte {
	buf := make([]byte, 0, 160)

	buf = append(buf, "HTTP/1.1 "...)
	buf = strconv.AppendInt(buf, int64(resp.Status), 10)
	buf = append(buf, ' ')
	buf = append(buf, StatusText(resp.Status)...)
	buf = append(buf, lineTerminator...)

	contentType := resp.ContentType
	if contentType == "" {
		contentType = "text/html"
	}
	buf = appendHeader(buf, "Content-Type", contentType)
	buf = appendHeader(buf, "Content-Length", strconv.FormatInt(resp.ContentLength(), 10))
	if keepAlive && !resp.Close {
		buf = appendHeader(buf, "Connection", "keep-alive")
	} else {
		buf = appendHeader(buf, "Connection", "close")
	}
	if resp.Cacheable {
		buf = appendHeader(buf, "Cache-Control", CacheControl)
	}

	return append(buf, lineTerminator...)
}

// Build returns head and in-memory body as one buffer. Streamed responses
// only get their head; the dispatcher copies the stream separately.
func Build(resp *Response, keepAlive bool) []byte {
	head := BuildHead(resp, keepAlive)
	if resp.Stream != nil {
		return head
	}
	return append(head, resp.Body...)
}

func appendHeader(buf []byte, key, value string) []byte {
	buf = append(buf, key...)
	buf = append(buf, ": "...)
	buf = append(buf, value...)
	return append(buf, lineTerminator...)
}
