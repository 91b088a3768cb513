package protocol

import (
	"io"

	"github.com/nczempin/minihttpd/errors"
)

// ReadChunkSize bounds every read issued against the connection.
const ReadChunkSize = 4096

// BodyReader yields a request body of a declared length: first the fragment
// that arrived together with the head, then further reads from the
// connection, each at most ReadChunkSize bytes. It is used both for bodies
// completed into memory and for bodies streamed to disk.
type BodyReader struct {
	src       io.Reader
	initial   []byte
	remaining int64
	err       error
}

// NewBodyReader creates a reader for a body of length bytes whose first
// bytes are initial. initial must not be longer than length.
func NewBodyReader(src io.Reader, initial []byte, length int64) *BodyReader {
	if length < 0 {
		length = 0
	}
	return &BodyReader{
		src:       src,
		initial:   initial,
		remaining: length - int64(len(initial)),
	}
}

// Read implements io.Reader. A connection that fails or closes before the
// declared length is reached yields ProtocolErrorIncompleteBody.
func (b *BodyReader) Read(p []byte) (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	if len(b.initial) > 0 {
		n := copy(p, b.initial)
		b.initial = b.initial[n:]
		return n, nil
	}
	if b.remaining <= 0 {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	if len(p) > ReadChunkSize {
		p = p[:ReadChunkSize]
	}
	if int64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}

	n, err := b.src.Read(p)
	b.remaining -= int64(n)
	if err != nil || n == 0 {
		incomplete := errors.NewProtocolError(errors.ProtocolErrorIncompleteBody, "connection lost before the full body arrived")
		incomplete.UnderlyingErr = err
		b.err = incomplete
		return n, b.err
	}
	return n, nil
}

// Remaining returns the number of body bytes not yet delivered
func (b *BodyReader) Remaining() int64 {
	return int64(len(b.initial)) + b.remaining
}

// Done reports whether the whole body was delivered without error
func (b *BodyReader) Done() bool {
	return b.err == nil && b.Remaining() == 0
}

// CompleteBody drains br into memory. Bodies larger than limit are rejected
// with a 413 client error before any further read.
func CompleteBody(br *BodyReader, limit int64) ([]byte, error) {
	total := br.Remaining()
	if limit > 0 && total > limit {
		return nil, errors.NewClientError(413, "request body too large")
	}

	body := make([]byte, total)
	if _, err := io.ReadFull(br, body); err != nil {
		return nil, err
	}
	return body, nil
}
