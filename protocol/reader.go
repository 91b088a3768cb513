package protocol

import (
	"io"

	"github.com/nczempin/minihttpd/errors"
)

// DefaultMaxHeaderBytes bounds the request line plus headers.
const DefaultMaxHeaderBytes = 8192

// Reader reads sequential requests from one connection. Bytes received past
// the end of a request body are kept and parsed as the start of the next
// request.
type Reader struct {
	src            io.Reader
	buffer         []byte
	readBuf        []byte
	maxHeaderBytes int
}

// NewReader creates a request reader over src
func NewReader(src io.Reader, maxHeaderBytes int) *Reader {
	if maxHeaderBytes <= 0 {
		maxHeaderBytes = DefaultMaxHeaderBytes
	}
	return &Reader{
		src:            src,
		buffer:         make([]byte, 0, ReadChunkSize),
		readBuf:        make([]byte, ReadChunkSize),
		maxHeaderBytes: maxHeaderBytes,
	}
}

// Buffered returns the number of bytes already read but not yet consumed
func (r *Reader) Buffered() int {
	return len(r.buffer)
}

// ReadRequest reads until a complete request head is buffered and returns
// the request with BodyStream positioned at the start of the body. Transport
// errors (timeout, peer closed) are returned unchanged.
func (r *Reader) ReadRequest() (*Request, error) {
	var (
		req     *Request
		headLen int
		err     error
	)

	for {
		req, headLen, err = ParseRequestHead(r.buffer)
		if err == nil {
			break
		}
		if !errors.IsProtocol(err, errors.ProtocolErrorIncompleteRequest) {
			return nil, err
		}
		if len(r.buffer) >= r.maxHeaderBytes {
			return nil, errors.NewProtocolError(errors.ProtocolErrorMessageTooLarge, "request head exceeds read budget")
		}

		n, err := r.src.Read(r.readBuf)
		if err != nil {
			return nil, err
		}
		r.buffer = append(r.buffer, r.readBuf[:n]...)
	}

	if headLen > r.maxHeaderBytes {
		return nil, errors.NewProtocolError(errors.ProtocolErrorMessageTooLarge, "request head exceeds read budget")
	}

	length := req.ContentLength
	if length < 0 {
		length = 0
	}

	rest := r.buffer[headLen:]
	var initial []byte
	if int64(len(rest)) > length {
		initial = append([]byte(nil), rest[:length]...)
		r.buffer = append(r.buffer[:0], rest[length:]...)
	} else {
		initial = append([]byte(nil), rest...)
		r.buffer = r.buffer[:0]
	}

	req.BodyStream = NewBodyReader(r.src, initial, length)
	return req, nil
}
