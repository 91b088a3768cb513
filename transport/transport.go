package transport

import (
	"net"
	"time"
)

// Transport defines one accepted connection as seen by the request loop.
// Implementations include plain net.Conn sockets (tcp and unix) and an
// io_uring backed socket.
type Transport interface {
	// Read receives data from the peer.
	// Returns the number of bytes read or an error. A read that does not
	// complete within the configured read timeout fails with a timeout error.
	Read(buf []byte) (int, error)

	// Write sends data to the peer.
	// Returns the number of bytes written or an error.
	Write(buf []byte) (int, error)

	// SetReadTimeout sets the timeout applied to every subsequent Read.
	// Zero disables the timeout.
	SetReadTimeout(d time.Duration)

	// RemoteAddr returns the peer address for logging.
	RemoteAddr() string

	// Close closes the connection. It is idempotent.
	Close() error
}

// Listener hands out accepted connections as Transports.
type Listener interface {
	// Accept blocks until a new connection arrives.
	Accept() (Transport, error)

	// Addr returns the bound address.
	Addr() net.Addr

	// Close stops accepting. Blocked Accept calls return an error.
	Close() error
}
