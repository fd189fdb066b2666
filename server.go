package astyled

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultAddr is the address the formatting service listens on by default.
const DefaultAddr = ":8007"

// defaultMaxConns bounds the number of connections handled at once.
const defaultMaxConns = 256

// acceptBackoff is how long an accepted connection waits between attempts
// to get a handler slot while the connection limit is reached.
const acceptBackoff = 10 * time.Millisecond

// Handler is the interface for handling incoming connections.
// Handle owns conn and must close it before returning.
type Handler interface {
	Handle(ctx context.Context, conn net.Conn)
}

// Server accepts TCP connections and dispatches each to a Handler.
type Server struct {
	listener        *net.TCPListener
	logger          Logger
	shutdownTimeout time.Duration
	maxConns        int

	mu          sync.Mutex
	shutdown    bool
	shutdownNow chan struct{} // signals immediate shutdown, bypassing timeout
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerLoggerOption sets the logger for the server.
func ServerLoggerOption(logger Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// ServerShutdownTimeoutOption sets how long in-flight connections may keep
// running after the server stops accepting. When it expires their contexts
// are cancelled, which closes their sockets. Default is 0 (cancel immediately).
func ServerShutdownTimeoutOption(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.shutdownTimeout = timeout
	}
}

// ServerMaxConnsOption bounds the number of connections handled concurrently.
// While the bound is reached the last accepted connection waits for a free
// slot and no further connections are accepted. Cancelling the Serve context
// or calling Close closes the waiting connection.
func ServerMaxConnsOption(n int) ServerOption {
	return func(s *Server) {
		s.maxConns = n
	}
}

// New creates a new TCP server bound to the specified address.
// Returns an error if the address cannot be bound.
func New(addr *net.TCPAddr, opts ...ServerOption) (*Server, error) {
	listener, err := net.ListenTCP(addr.Network(), addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		listener:    listener,
		logger:      slog.Default(),
		maxConns:    defaultMaxConns,
		shutdownNow: make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Serve accepts connections and runs handler for each on its own goroutine.
// It blocks until ctx is canceled or Accept fails, then waits for in-flight
// handlers as described by ServerShutdownTimeoutOption before returning.
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	s.logger.Info("server started", "addr", s.listener.Addr(), "max_conns", s.maxConns)

	// Handlers outlive ctx until the drain below cancels them.
	connCtx, cancelConns := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelConns()

	var group errgroup.Group
	if s.maxConns > 0 {
		group.SetLimit(s.maxConns)
	}

	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		// Set a deadline to unblock Accept
		_ = s.listener.SetDeadline(time.Now())
	})
	defer stop()

	err := s.acceptLoop(ctx, &group, connCtx, handler)

	s.drain(&group, cancelConns)
	s.logger.Info("server stopped", "addr", s.listener.Addr())

	return err
}

func (s *Server) acceptLoop(ctx context.Context, group *errgroup.Group, connCtx context.Context, handler Handler) error {
	for {
		conn, err := s.listener.AcceptTCP()
		if err != nil {
			if s.isShutdown() {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				return nil
			}

			// Check if it's a temporary error
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Error("accept error", "error", err)
			return err
		}

		s.logger.Debug("accepted connection", "remote_addr", conn.RemoteAddr())
		_ = conn.SetNoDelay(true)

		handle := func() error {
			handler.Handle(connCtx, conn)
			return nil
		}
		for !group.TryGo(handle) {
			select {
			case <-ctx.Done():
				_ = conn.Close()
				return ctx.Err()
			case <-time.After(acceptBackoff):
			}
			if s.isShutdown() {
				_ = conn.Close()
				return ctx.Err()
			}
		}
	}
}

// drain waits for running handlers, cancelling them once the shutdown timeout
// expires or Close is called.
func (s *Server) drain(group *errgroup.Group, cancel context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(done)
	}()

	if s.shutdownTimeout > 0 {
		s.logger.Info("graceful shutdown initiated", "timeout", s.shutdownTimeout)
		timer := time.NewTimer(s.shutdownTimeout)
		defer timer.Stop()

		select {
		case <-done:
			return
		case <-timer.C:
		case <-s.shutdownNow:
			s.logger.Debug("shutdown timeout bypassed via Close()")
		}
	}

	cancel()
	<-done
}

func (s *Server) isShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// Close stops the server by closing the underlying listener.
// In-flight connections are cancelled without waiting for the shutdown timeout.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	// Signal to bypass any pending shutdown timeout
	select {
	case s.shutdownNow <- struct{}{}:
	default:
		// Channel already has a signal
	}

	return s.listener.Close()
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
