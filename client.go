package astyled

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ReplyError carries the message of an ERR reply received by a Client.
type ReplyError struct {
	Message string
}

func (e *ReplyError) Error() string {
	return "server error: " + strings.TrimRight(e.Message, "\n")
}

// Client sends one formatting request per connection.
type Client struct {
	// Addr is the host:port of the server.
	Addr string
	// Codec sets the request and reply limits. Nil uses the defaults.
	Codec *WireCodec
	// Timeout bounds dialing plus the whole exchange. Zero means no timeout beyond ctx.
	Timeout time.Duration
}

// NewClient returns a Client for addr with default limits.
func NewClient(addr string) *Client {
	return &Client{Addr: addr, Codec: NewWireCodec(), Timeout: defaultReadTimeout}
}

// Format sends source with the given mode/style options and returns the formatted text.
// An ERR reply is returned as a *ReplyError.
func (c *Client) Format(ctx context.Context, source []byte, opts map[string]string) ([]byte, error) {
	reply, err := c.Do(ctx, Request{Options: opts, Body: source})
	if err != nil {
		return nil, err
	}
	if !reply.OK() {
		return nil, &ReplyError{Message: reply.Message()}
	}
	return reply.Payload, nil
}

// Do performs one raw request/reply exchange.
func (c *Client) Do(ctx context.Context, req Request) (Reply, error) {
	codec := c.Codec
	if codec == nil {
		codec = NewWireCodec()
	}

	frame, err := codec.EncodeRequest(req)
	if err != nil {
		return Reply{}, errors.Wrap(err, "encode request")
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return Reply{}, errors.Wrapf(err, "dial %s", c.Addr)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if _, err := conn.Write(frame); err != nil {
		return Reply{}, errors.Wrap(err, "send request")
	}

	reply, err := codec.DecodeReply(conn)
	if err != nil {
		return Reply{}, errors.Wrap(err, "read reply")
	}
	return reply, nil
}
