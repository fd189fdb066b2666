// Package astyled serves source formatting requests over a line-oriented TCP protocol.
//
// A request is the header line ASTYLE, a block of key=value option lines ended
// by a blank line, and exactly SIZE bytes of source text. Each connection
// carries one request and receives one OK or ERR reply before it is closed.
package astyled

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Errors returned by connection operations.
var (
	// ErrInvalidTransformer is returned when no transformer is provided.
	ErrInvalidTransformer = errors.New("invalid transformer")
	// ErrConnectionClosed is returned when operating on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
)

// defaultReadTimeout bounds one request/reply cycle when no timeout is configured.
const defaultReadTimeout = 30 * time.Second

// Conn drives a single accepted connection through decode, transform and reply.
type Conn struct {
	rawConn net.Conn
	id      string
	logger  Logger

	opts options

	state  atomic.Int32
	closed atomic.Bool
}

// NewConn creates a connection handler around conn.
// Returns an error if the transformer option is missing.
func NewConn(conn net.Conn, opt ...Option) (*Conn, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}

	if err := checkOptions(&opts); err != nil {
		return nil, err
	}

	return newConnWithOptions(conn, opts), nil
}

// checkOptions validates and sets default values for connection options.
func checkOptions(opts *options) error {
	if opts.transformer == nil {
		return ErrInvalidTransformer
	}

	if opts.codec == nil {
		opts.codec = NewWireCodec()
	}

	if opts.readTimeout <= 0 {
		opts.readTimeout = defaultReadTimeout
	}

	if opts.maxOutputSize <= 0 {
		opts.maxOutputSize = DefaultMaxOutputSize
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	if opts.observer == nil {
		opts.observer = nopObserver{}
	}

	return nil
}

func newConnWithOptions(c net.Conn, opts options) *Conn {
	id := uuid.NewString()
	return &Conn{
		rawConn: c,
		id:      id,
		logger:  withFields(opts.logger, "conn_id", id, "addr", c.RemoteAddr().String()),
		opts:    opts,
	}
}

// ID returns the identifier used in this connection's log records.
func (c *Conn) ID() string {
	return c.id
}

// State returns the current position in the request/reply cycle.
func (c *Conn) State() State {
	return State(c.state.Load())
}

func (c *Conn) setState(s State) {
	c.state.Store(int32(s))
}

// Run handles exactly one request and closes the connection.
// It returns nil when an OK reply was written, the decode or transform error
// when an ERR reply was written, or the I/O error that prevented the reply.
// Cancelling ctx closes the socket, unblocking any pending read.
func (c *Conn) Run(ctx context.Context) error {
	c.opts.observer.ConnOpened()
	start := time.Now()

	c.logger.Debug("connection established", "read_timeout", c.opts.readTimeout)

	group, child := errgroup.WithContext(ctx)
	done := make(chan struct{})

	var res Result
	group.Go(func() error {
		defer close(done)
		var err error
		res, err = c.serve(child)
		return err
	})

	group.Go(func() error {
		select {
		case <-done:
			return nil
		case <-child.Done():
			c.closeConn()
			return child.Err()
		}
	})

	err := group.Wait()
	if err != nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	c.closeConn()
	c.setState(StateClosed)

	res.Duration = time.Since(start)
	c.opts.observer.ConnClosed(res)

	if err != nil {
		c.logger.Debug("connection closed with error", "outcome", res.Outcome, "error", err)
	} else {
		c.logger.Debug("connection closed", "outcome", res.Outcome, "elapsed", res.Duration)
	}

	return err
}

// serve runs the state machine. The returned Result is filled in on every path.
func (c *Conn) serve(ctx context.Context) (Result, error) {
	if err := c.rawConn.SetDeadline(time.Now().Add(c.opts.readTimeout)); err != nil {
		c.logger.Debug("set deadline failed", "error", err)
	}

	c.setState(StateAwaitHeader)
	dec := c.opts.codec.NewDecoder(c.rawConn)
	req, err := dec.Decode()
	if err != nil {
		res := Result{Outcome: OutcomeDecodeError, Kind: ErrorKind(err)}
		if IsDecodeError(err) {
			c.logger.Info("request rejected", "state", dec.State(), "kind", res.Kind, "error", err.Error())
		} else {
			c.logger.Debug("request read failed", "state", dec.State(), "error", err.Error())
		}

		c.setState(StateReply)
		if werr := c.reply(decodeFailure(err.Error())); werr != nil {
			res.Outcome = OutcomeWriteError
			return res, werr
		}
		return res, err
	}

	res := Result{BodyBytes: req.Size}
	optionSet := req.OptionSet()
	c.logger.Debug("request decoded", "size", req.Size, "options", optionSet)

	c.setState(StateTransform)
	out, err := runTransform(ctx, c.opts.transformer, req.Body, optionSet, c.opts.maxOutputSize)

	reply := Success(out)
	res.Outcome = OutcomeOK
	if err != nil {
		c.logger.Info("transform failed", "codes", transformCodes(err), "error", err.Error())
		reply = Failure(err.Error())
		res.Outcome = OutcomeTransformError
		res.Kind = ErrorKind(err)
	}

	c.setState(StateReply)
	if werr := c.reply(reply); werr != nil {
		res.Outcome = OutcomeWriteError
		return res, werr
	}

	return res, err
}

// reply writes r. A failed write is unrecoverable; the caller drops the connection.
func (c *Conn) reply(r Reply) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	if err := WriteReply(c.rawConn, r); err != nil {
		c.logger.Debug("reply dropped", "status", r.Status, "error", err)
		return err
	}
	return nil
}

// Close closes the connection. Safe to call multiple times.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.rawConn.Close()
}

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// Addr returns the remote address of the connection.
func (c *Conn) Addr() net.Addr {
	return c.rawConn.RemoteAddr()
}

func (c *Conn) closeConn() {
	_ = c.Close()
}

// transformCodes returns the codes reported by a failed transform, if any.
func transformCodes(err error) []int {
	var te TransformErrors
	if errors.As(err, &te) {
		return te.Codes()
	}
	return nil
}
