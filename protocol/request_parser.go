package protocol

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/nczempin/minihttpd/errors"
)

var (
	lineTerminator  = []byte("\r\n")
	headerSeparator = []byte("\r\n\r\n")
)

// ParseRequestHead parses the request line and headers at the start of buf.
// It returns the request and the number of bytes consumed by the head,
// including the blank line. When buf does not yet hold a complete head the
// error is ProtocolErrorIncompleteRequest and the caller should read more.
func ParseRequestHead(buf []byte) (*Request, int, error) {
	lineEnd := bytes.Index(buf, lineTerminator)
	headEnd := bytes.Index(buf, headerSeparator)
	if lineEnd < 0 || headEnd < 0 {
		return nil, 0, errors.NewProtocolError(errors.ProtocolErrorIncompleteRequest, "request head not terminated")
	}

	req, err := parseRequestLine(buf[:lineEnd])
	if err != nil {
		return nil, 0, err
	}

	req.Header = make(Header)
	if headEnd > lineEnd {
		parseHeaders(buf[lineEnd+len(lineTerminator):headEnd], req.Header)
	}

	req.ContentLength, err = parseContentLength(req.Header)
	if err != nil {
		return nil, 0, err
	}

	return req, headEnd + len(headerSeparator), nil
}

// parseRequestLine splits "METHOD target VERSION"
func parseRequestLine(line []byte) (*Request, error) {
	parts := strings.Split(string(line), " ")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return nil, errors.NewProtocolError(errors.ProtocolErrorInvalidRequestLine, "malformed request line")
	}
	if !strings.HasPrefix(parts[2], "HTTP/") {
		return nil, errors.NewProtocolError(errors.ProtocolErrorInvalidRequestLine, "unsupported protocol "+parts[2])
	}

	req := &Request{
		Method:        parts[0],
		Proto:         parts[2],
		ContentLength: -1,
	}

	target := parts[1]
	if i := strings.IndexByte(target, '?'); i >= 0 {
		req.Path, req.Query = target[:i], target[i+1:]
	} else {
		req.Path = target
	}

	return req, nil
}

// parseHeaders fills h from CRLF separated "key: value" lines. Lines without
// a colon are ignored.
func parseHeaders(block []byte, h Header) {
	for _, line := range bytes.Split(block, lineTerminator) {
		colon := bytes.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(string(line[:colon])))
		if key == "" {
			continue
		}
		h[key] = strings.TrimSpace(string(line[colon+1:]))
	}
}

func parseContentLength(h Header) (int64, error) {
	value, ok := h["content-length"]
	if !ok {
		return -1, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n < 0 {
		return -1, errors.NewProtocolError(errors.ProtocolErrorInvalidContentLength, "invalid Content-Length "+strconv.Quote(value))
	}
	return n, nil
}
