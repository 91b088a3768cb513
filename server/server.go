// Package server runs the connection dispatcher: one accept loop and one
// worker goroutine per connection, each serving sequential keep-alive
// requests until the peer closes, times out or asks to close.
package server

import (
	"context"
	"io"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	httperrors "github.com/nczempin/minihttpd/errors"
	"github.com/nczempin/minihttpd/protocol"
	"github.com/nczempin/minihttpd/router"
	"github.com/nczempin/minihttpd/stats"
	"github.com/nczempin/minihttpd/transport"
)

const (
	DefaultIdleTimeout  = 5 * time.Second
	DefaultMaxBodyBytes = 1 << 20
)

// acceptBackoff is the pause after a failed accept, so a persistent error
// such as descriptor exhaustion does not spin the loop.
const acceptBackoff = 50 * time.Millisecond

// Config tunes the dispatcher. Zero values select the defaults.
type Config struct {
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodyBytes   int64

	// MaxConns bounds the number of connections served at once. 0 means
	// unbounded.
	MaxConns int
}

// Server dispatches accepted connections to the router
type Server struct {
	listener transport.Listener
	router   *router.Router
	conns    *stats.Connections
	log      zerolog.Logger
	cfg      Config

	sem     chan struct{}
	wg      sync.WaitGroup
	nextID  atomic.Uint64
	closing atomic.Bool

	mu     sync.Mutex
	active map[transport.Transport]struct{}
}

func New(l transport.Listener, r *router.Router, conns *stats.Connections, log zerolog.Logger, cfg Config) *Server {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.MaxHeaderBytes <= 0 {
		cfg.MaxHeaderBytes = protocol.DefaultMaxHeaderBytes
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if conns == nil {
		conns = &stats.Connections{}
	}

	s := &Server{
		listener: l,
		router:   r,
		conns:    conns,
		log:      log,
		cfg:      cfg,
		active:   make(map[transport.Transport]struct{}),
	}
	if cfg.MaxConns > 0 {
		s.sem = make(chan struct{}, cfg.MaxConns)
	}
	return s
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed. It returns nil on an orderly stop. Workers keep running after
// Serve returns; use Shutdown to wait for them.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		s.closing.Store(true)
		s.listener.Close()
	})
	defer stop()

	base := context.WithoutCancel(ctx)
	s.log.Info().Str("addr", s.listener.Addr().String()).Msg("server listening")

	for {
		if !s.acquire(ctx) {
			return nil
		}

		t, err := s.listener.Accept()
		if err != nil {
			s.release()
			if s.closing.Load() || httperrors.IsTransport(err, httperrors.TransportErrorConnectionClosed) {
				s.log.Info().Msg("listener closed")
				return nil
			}
			s.log.Error().Err(err).Msg("accept failed")
			time.Sleep(acceptBackoff)
			continue
		}

		if s.closing.Load() {
			t.Close()
			s.release()
			return nil
		}

		s.track(t, true)
		s.wg.Add(1)
		go s.serveConn(base, t, s.nextID.Add(1))
	}
}

// Shutdown stops accepting and waits for running connections to finish.
// When ctx expires first the remaining connections are closed forcibly and
// ctx's error is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closing.Store(true)
	s.listener.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	s.mu.Lock()
	for t := range s.active {
		t.Close()
	}
	s.mu.Unlock()
	<-done
	return ctx.Err()
}

func (s *Server) acquire(ctx context.Context) bool {
	if s.sem == nil {
		return true
	}
	select {
	case s.sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Server) release() {
	if s.sem != nil {
		<-s.sem
	}
}

func (s *Server) track(t transport.Transport, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.active[t] = struct{}{}
	} else {
		delete(s.active, t)
	}
}

func (s *Server) serveConn(ctx context.Context, t transport.Transport, id uint64) {
	log := s.log.With().Uint64("conn", id).Str("remote", t.RemoteAddr()).Logger()
	ctx = log.WithContext(ctx)

	s.conns.Opened()
	defer func() {
		t.Close()
		s.track(t, false)
		s.conns.Closed()
		s.release()
		s.wg.Done()
		log.Debug().Msg("connection closed")
	}()

	t.SetReadTimeout(s.cfg.IdleTimeout)
	reader := protocol.NewReader(t, s.cfg.MaxHeaderBytes)

	for {
		req, err := reader.ReadRequest()
		if err != nil {
			s.abandon(log, t, err)
			return
		}
		req.RemoteAddr = t.RemoteAddr()
		s.conns.Request()

		if !s.handle(ctx, log, t, req) {
			return
		}
	}
}

// abandon ends a connection whose next request could not be read. Only an
// unusable Content-Length gets an answer; everything else closes silently.
func (s *Server) abandon(log zerolog.Logger, t transport.Transport, err error) {
	switch {
	case httperrors.IsTransport(err, httperrors.TransportErrorTimeout):
		log.Debug().Msg("idle timeout")
	case httperrors.IsTransport(err, httperrors.TransportErrorConnectionClosed):
		log.Debug().Msg("peer closed")
	case httperrors.IsProtocol(err, httperrors.ProtocolErrorInvalidContentLength):
		log.Warn().Err(err).Msg("rejecting request")
		resp := protocol.JSON(400, `{"error": "Invalid Content-Length header."}`)
		t.Write(protocol.Build(resp, false))
	default:
		log.Warn().Err(err).Msg("abandoning connection")
	}
}

// handle runs one request through routing, the handler and the response
// writer. It reports whether the connection may serve another request.
func (s *Server) handle(ctx context.Context, log zerolog.Logger, t transport.Transport, req *protocol.Request) bool {
	route := s.router.Match(req.Method, req.Path)
	log.Debug().Str("method", req.Method).Str("path", req.Path).Str("route", route.Pattern).Msg("request")

	if !route.Streaming {
		body, err := protocol.CompleteBody(req.BodyStream, s.cfg.MaxBodyBytes)
		if err != nil {
			if httperrors.TypeOf(err) == httperrors.ErrorClient {
				log.Warn().Int64("length", req.ContentLength).Msg("request body too large")
				resp := protocol.JSON(413, `{"error": "Request body too large."}`)
				t.Write(protocol.Build(resp, false))
			} else {
				log.Debug().Err(err).Msg("incomplete request body")
			}
			return false
		}
		req.Body = body
	}

	resp := s.invoke(ctx, log, route.Handler, req)

	// A body the handler left unread would be parsed as the next request.
	keepAlive := req.KeepAlive() && !resp.Close && req.BodyStream.Done()
	if err := s.write(t, req, resp, keepAlive); err != nil {
		log.Debug().Err(err).Int("status", resp.Status).Msg("write response failed")
		return false
	}

	log.Debug().Int("status", resp.Status).Bool("keep_alive", keepAlive).Msg("response sent")
	return keepAlive
}

func (s *Server) invoke(ctx context.Context, log zerolog.Logger, h router.Handler, req *protocol.Request) (resp *protocol.Response) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Str("path", req.Path).Msg("handler panicked")
			resp = protocol.JSON(500, `{"error": "Internal server error."}`)
		}
	}()

	resp = h(ctx, req)
	if resp == nil {
		log.Error().Str("path", req.Path).Msg("handler returned no response")
		resp = protocol.JSON(500, `{"error": "Internal server error."}`)
	}
	return resp
}

// write sends resp. A streamed body goes out in ReadChunkSize pieces and is
// closed afterwards; HEAD requests only get the head.
func (s *Server) write(t transport.Transport, req *protocol.Request, resp *protocol.Response, keepAlive bool) error {
	if c, ok := resp.Stream.(io.Closer); ok {
		defer c.Close()
	}

	if req.Method == "HEAD" {
		_, err := t.Write(protocol.BuildHead(resp, keepAlive))
		return err
	}
	if _, err := t.Write(protocol.Build(resp, keepAlive)); err != nil {
		return err
	}
	if resp.Stream == nil {
		return nil
	}

	buf := make([]byte, protocol.ReadChunkSize)
	n, err := io.CopyBuffer(writerOnly{t}, io.LimitReader(resp.Stream, resp.Length), buf)
	if err != nil {
		return errors.Wrap(err, "stream response body")
	}
	if n != resp.Length {
		return errors.Errorf("stream response body: sent %d of %d bytes", n, resp.Length)
	}
	return nil
}

// writerOnly hides any ReaderFrom so CopyBuffer uses the fixed buffer
type writerOnly struct {
	io.Writer
}
