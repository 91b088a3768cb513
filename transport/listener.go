package transport

import (
	"errors"
	"net"
	"os"

	httperrors "github.com/nczempin/minihttpd/errors"
)

// NetListener accepts connections with the standard net package and wraps
// each one in a NetTransport.
type NetListener struct {
	ln net.Listener
}

// Listen binds network ("tcp" or "unix") at address. A stale unix socket
// file is removed before binding.
func Listen(network, address string) (*NetListener, error) {
	if network == "unix" {
		if err := os.Remove(address); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, httperrors.NewStartupError("failed to remove stale socket "+address, err)
		}
	}

	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, httperrors.NewStartupError("failed to bind "+network+" "+address, err)
	}

	return &NetListener{ln: ln}, nil
}

// NewNetListener wraps an existing listener
func NewNetListener(ln net.Listener) *NetListener {
	return &NetListener{ln: ln}
}

// Accept waits for the next connection
func (l *NetListener) Accept() (Transport, error) {
	conn, err := l.acceptConn()
	if err != nil {
		return nil, err
	}
	return NewNetTransport(conn), nil
}

func (l *NetListener) acceptConn() (net.Conn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, httperrors.NewTransportError(httperrors.TransportErrorConnectionClosed, "listener closed", err)
		}
		return nil, httperrors.NewTransportError(httperrors.TransportErrorAcceptFailure, "accept failed", err)
	}

	// Set TCP_NODELAY to disable Nagle's algorithm for lower latency
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	return conn, nil
}

// Addr returns the bound address
func (l *NetListener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops the listener
func (l *NetListener) Close() error {
	return l.ln.Close()
}
