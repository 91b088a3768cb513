package transport

import (
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/iceber/iouring-go"

	httperrors "github.com/nczempin/minihttpd/errors"
)

type fileConn interface {
	File() (*os.File, error)
}

// UringListener accepts connections with the net package and then moves each
// socket onto a shared io_uring instance for all further I/O.
type UringListener struct {
	inner *NetListener
	ring  *sharedRing
}

// sharedRing closes the io_uring instance once the listener and every
// transport using it are closed.
type sharedRing struct {
	iour *iouring.IOURing

	mu      sync.Mutex
	refs    int
	stopped bool
}

func (r *sharedRing) acquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	r.refs++
	return true
}

func (r *sharedRing) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs--
	if r.stopped && r.refs == 0 {
		r.iour.Close()
	}
}

func (r *sharedRing) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.stopped = true
	if r.refs == 0 {
		r.iour.Close()
	}
}

// uringEntries is the submission queue depth shared by every connection
// accepted from one listener.
const uringEntries = 256

// NewUringListener wraps inner.
func NewUringListener(inner *NetListener) (*UringListener, error) {
	iour, err := iouring.New(uringEntries)
	if err != nil {
		return nil, httperrors.NewTransportError(
			httperrors.TransportErrorIoUringInit,
			"failed to initialize io_uring",
			err,
		)
	}

	return &UringListener{
		inner: inner,
		ring:  &sharedRing{iour: iour},
	}, nil
}

// Accept waits for the next connection and detaches its descriptor from the
// runtime poller.
func (l *UringListener) Accept() (Transport, error) {
	conn, err := l.inner.acceptConn()
	if err != nil {
		return nil, err
	}

	fc, ok := conn.(fileConn)
	if !ok {
		conn.Close()
		return nil, httperrors.NewTransportError(httperrors.TransportErrorAcceptFailure, "connection has no file descriptor", nil)
	}

	// File returns a duplicate descriptor in blocking mode; the original
	// net.Conn is no longer needed.
	file, err := fc.File()
	remote := conn.RemoteAddr().String()
	conn.Close()
	if err != nil {
		return nil, httperrors.NewTransportError(httperrors.TransportErrorAcceptFailure, "failed to detach socket", err)
	}

	if !l.ring.acquire() {
		file.Close()
		return nil, httperrors.NewTransportError(httperrors.TransportErrorConnectionClosed, "listener closed", nil)
	}
	return newUringTransport(l.ring, file, remote), nil
}

// Addr returns the bound address
func (l *UringListener) Addr() net.Addr {
	return l.inner.Addr()
}

// Close stops accepting. The io_uring instance is released once the last
// accepted transport is closed too.
func (l *UringListener) Close() error {
	err := l.inner.Close()
	l.ring.stop()
	return err
}

// UringTransport implements Transport using io_uring for socket I/O
type UringTransport struct {
	ring        *sharedRing
	iour        *iouring.IOURing
	file        *os.File
	fd          int
	remote      string
	readTimeout time.Duration
	closed      atomic.Bool
}

func newUringTransport(ring *sharedRing, file *os.File, remote string) *UringTransport {
	return &UringTransport{
		ring:   ring,
		iour:   ring.iour,
		file:   file,
		fd:     int(file.Fd()),
		remote: remote,
	}
}

// SetReadTimeout sets the per-read timeout
func (t *UringTransport) SetReadTimeout(d time.Duration) {
	t.readTimeout = d
}

// RemoteAddr returns the peer address
func (t *UringTransport) RemoteAddr() string {
	return t.remote
}

// Read receives data from the connection using io_uring
func (t *UringTransport) Read(buf []byte) (int, error) {
	if t.closed.Load() {
		return 0, httperrors.NewTransportError(
			httperrors.TransportErrorConnectionClosed,
			"connection closed",
			nil,
		)
	}

	ch := make(chan iouring.Result, 1)
	prepReq := iouring.Recv(t.fd, buf, 0)
	if _, err := t.iour.SubmitRequest(prepReq, ch); err != nil {
		return 0, httperrors.NewTransportError(
			httperrors.TransportErrorIoUringSubmit,
			"failed to submit read request",
			err,
		)
	}

	var result iouring.Result
	if t.readTimeout > 0 {
		timer := time.NewTimer(t.readTimeout)
		select {
		case result = <-ch:
			timer.Stop()
		case <-timer.C:
			// Shutting the socket down completes the pending recv; the
			// connection is unusable afterwards and the caller closes it.
			syscall.Shutdown(t.fd, syscall.SHUT_RDWR)
			<-ch
			return 0, httperrors.NewTransportError(
				httperrors.TransportErrorTimeout,
				"read timed out",
				nil,
			)
		}
	} else {
		result = <-ch
	}

	n, err := completionValue(result)
	if err != nil {
		if errors.Is(err, syscall.ECONNRESET) {
			return 0, httperrors.NewTransportError(
				httperrors.TransportErrorConnectionClosed,
				"connection reset by peer",
				err,
			)
		}
		return 0, httperrors.NewTransportError(
			httperrors.TransportErrorSocketReadFailure,
			"read failed",
			err,
		)
	}

	if n == 0 && len(buf) > 0 {
		return 0, httperrors.NewTransportError(
			httperrors.TransportErrorConnectionClosed,
			"connection closed by peer",
			nil,
		)
	}

	return n, nil
}

// Write sends data over the connection using io_uring
func (t *UringTransport) Write(buf []byte) (int, error) {
	if t.closed.Load() {
		return 0, httperrors.NewTransportError(
			httperrors.TransportErrorConnectionClosed,
			"connection closed",
			nil,
		)
	}

	totalWritten := 0
	for totalWritten < len(buf) {
		ch := make(chan iouring.Result, 1)
		prepReq := iouring.Send(t.fd, buf[totalWritten:], 0)
		if _, err := t.iour.SubmitRequest(prepReq, ch); err != nil {
			return totalWritten, httperrors.NewTransportError(
				httperrors.TransportErrorIoUringSubmit,
				"failed to submit write request",
				err,
			)
		}

		result := <-ch
		n, err := completionValue(result)
		if err != nil {
			if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
				return totalWritten, httperrors.NewTransportError(
					httperrors.TransportErrorConnectionClosed,
					"peer went away",
					err,
				)
			}
			return totalWritten, httperrors.NewTransportError(
				httperrors.TransportErrorSocketWriteFailure,
				"write failed",
				err,
			)
		}

		if n <= 0 {
			return totalWritten, httperrors.NewTransportError(
				httperrors.TransportErrorConnectionClosed,
				"connection closed during write",
				nil,
			)
		}

		totalWritten += n
	}

	return totalWritten, nil
}

// Close closes the connection
func (t *UringTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}

	// Shutdown completes any recv still pending in the ring before the
	// descriptor goes away.
	syscall.Shutdown(t.fd, syscall.SHUT_RDWR)
	defer t.ring.release()
	if err := t.file.Close(); err != nil {
		return httperrors.NewTransportError(
			httperrors.TransportErrorConnectionClosed,
			"failed to close socket",
			err,
		)
	}
	return nil
}

// completionResult is the part of a completed request that carries the raw
// CQE result. Send and Recv register no resolver, so their ReturnInt is
// never populated.
type completionResult interface {
	GetRes() (int, error)
}

// completionValue returns the byte count of a completed send or recv. A
// negative CQE result is the negated errno.
func completionValue(result any) (int, error) {
	cr, ok := result.(completionResult)
	if !ok {
		return 0, errors.New("io_uring result carries no completion value")
	}
	n, err := cr.GetRes()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, syscall.Errno(-n)
	}
	return n, nil
}
