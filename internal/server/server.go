package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
)

// defaultMaxConns bounds concurrent inbound connections. Hidden-service
// traffic is low volume; the limit exists to keep a flood of circuits from
// exhausting file descriptors.
const defaultMaxConns = 64

// ErrServerClosed is returned by Serve after Stop has been called.
var ErrServerClosed = errors.New("server closed")

// DataHandler processes an application data frame and returns the reply
// frame, or nil for no reply. It runs on the connection's goroutine.
type DataHandler func(payload []byte) *Frame

// Server accepts connections from the hidden endpoint's local socket and
// speaks the frame protocol: pings are answered internally, data frames go
// to the handler.
type Server struct {
	logger   *slog.Logger
	maxConns int
	handler  DataHandler

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	done     chan struct{}
}

// ServerOption configures a Server instance.
type ServerOption func(*Server)

// WithMaxConns sets the concurrent-connection limit.
func WithMaxConns(limit int) ServerOption {
	return func(s *Server) {
		s.maxConns = limit
	}
}

// WithDataHandler sets the handler for application data frames. Without
// one, data frames are dropped without a reply.
func WithDataHandler(handler DataHandler) ServerOption {
	return func(s *Server) {
		s.handler = handler
	}
}

// WithServerLogger sets a custom logger for connection logging.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a Server. Call Serve with the listener to start accepting.
func New(opts ...ServerOption) *Server {
	s := &Server{
		maxConns: defaultMaxConns,
		conns:    make(map[net.Conn]struct{}),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	return s
}

// Serve accepts connections on the listener until it is closed or Stop is
// called. It blocks; the node runs it on a dedicated goroutine.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServerClosed
	}
	s.listener = listener
	s.mu.Unlock()

	defer close(s.done)

	group := &errgroup.Group{}
	group.SetLimit(s.maxConns)

	for {
		conn, err := listener.Accept()
		if err != nil {
			// Listener closed during Stop is the clean exit.
			waitErr := group.Wait()
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return ErrServerClosed
			}
			if waitErr != nil {
				return waitErr
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		s.track(conn)
		group.Go(func() error {
			defer s.untrack(conn)
			s.handleConn(conn)
			return nil
		})
	}
}

// handleConn reads frames off one connection until it errors or closes.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	for {
		frame, err := ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("connection read failed", "remote", conn.RemoteAddr().String(), "error", err)
			}
			return
		}

		switch frame.Type {
		case FramePing:
			if err := WriteFrame(conn, Frame{Type: FramePong, Payload: frame.Payload}); err != nil {
				s.logger.Debug("pong write failed", "error", err)
				return
			}
		case FrameData:
			if s.handler == nil {
				continue
			}
			if reply := s.handler(frame.Payload); reply != nil {
				if err := WriteFrame(conn, *reply); err != nil {
					s.logger.Debug("reply write failed", "error", err)
					return
				}
			}
		default:
			// Unknown frame types are a protocol violation; drop the
			// connection rather than guess.
			s.logger.Debug("unknown frame type, closing connection", "type", frame.Type)
			return
		}
	}
}

// track registers an active connection.
func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

// untrack removes a finished connection.
func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// Stop closes the listener, waits for in-flight connections up to the
// context deadline, then force-closes whatever remains. Safe to call
// before Serve and safe to call twice.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	listener := s.listener
	s.mu.Unlock()

	if listener == nil {
		// Serve never ran; nothing holds resources.
		close(s.done)
		return nil
	}
	_ = listener.Close() //nolint:errcheck // Closing is the goal

	select {
	case <-s.done:
	case <-ctx.Done():
		s.mu.Lock()
		remaining := len(s.conns)
		for conn := range s.conns {
			_ = conn.Close() //nolint:errcheck // Force close
		}
		s.mu.Unlock()
		s.logger.Warn("force-closed lingering connections on shutdown", "count", remaining)
		<-s.done
	}
	return nil
}
