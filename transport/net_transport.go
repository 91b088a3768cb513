package transport

import (
	"errors"
	"io"
	"net"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	httperrors "github.com/nczempin/minihttpd/errors"
)

// NetTransport implements the Transport interface on top of a net.Conn.
// It serves both TCP and Unix domain socket connections. Close may be called
// from another goroutine to interrupt a blocked Read.
type NetTransport struct {
	conn        net.Conn
	remote      string
	readTimeout time.Duration
	closed      atomic.Bool
}

// NewNetTransport wraps an accepted connection
func NewNetTransport(conn net.Conn) *NetTransport {
	return &NetTransport{
		conn:   conn,
		remote: conn.RemoteAddr().String(),
	}
}

// SetReadTimeout sets the per-read timeout
func (t *NetTransport) SetReadTimeout(d time.Duration) {
	t.readTimeout = d
}

// RemoteAddr returns the peer address
func (t *NetTransport) RemoteAddr() string {
	return t.remote
}

// Read receives data from the connection
func (t *NetTransport) Read(buf []byte) (int, error) {
	if t.closed.Load() {
		return 0, httperrors.NewTransportError(httperrors.TransportErrorSocketReadFailure, "transport closed", nil)
	}

	if t.readTimeout > 0 {
		if err := t.conn.SetReadDeadline(time.Now().Add(t.readTimeout)); err != nil {
			return 0, httperrors.NewTransportError(httperrors.TransportErrorSocketReadFailure, "failed to set read deadline", err)
		}
	}

	n, err := t.conn.Read(buf)
	if err != nil {
		return n, classifyReadError(err)
	}
	if n == 0 && len(buf) > 0 {
		return 0, httperrors.NewTransportError(httperrors.TransportErrorConnectionClosed, "connection closed by peer", nil)
	}

	return n, nil
}

// Write sends data over the connection
func (t *NetTransport) Write(buf []byte) (int, error) {
	if t.closed.Load() {
		return 0, httperrors.NewTransportError(httperrors.TransportErrorSocketWriteFailure, "transport closed", nil)
	}

	n, err := t.conn.Write(buf)
	if err != nil {
		// Check for broken pipe or connection reset
		if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, net.ErrClosed) {
			return n, httperrors.NewTransportError(httperrors.TransportErrorConnectionClosed, "peer went away", err)
		}
		return n, httperrors.NewTransportError(httperrors.TransportErrorSocketWriteFailure, "write failed", err)
	}

	return n, nil
}

// Close closes the connection
func (t *NetTransport) Close() error {
	if t.closed.Swap(true) {
		return nil // Idempotent close
	}

	err := t.conn.Close()

	if err != nil {
		return httperrors.NewTransportError(httperrors.TransportErrorConnectionClosed, "close failed", err)
	}

	return nil
}

func classifyReadError(err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return httperrors.NewTransportError(httperrors.TransportErrorTimeout, "read timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return httperrors.NewTransportError(httperrors.TransportErrorTimeout, "read timed out", err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, net.ErrClosed) {
		return httperrors.NewTransportError(httperrors.TransportErrorConnectionClosed, "connection closed by peer", err)
	}
	return httperrors.NewTransportError(httperrors.TransportErrorSocketReadFailure, "read failed", err)
}
