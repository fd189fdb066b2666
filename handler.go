package astyled

import (
	"context"
	"net"
)

// FormatHandler serves every accepted connection with the same set of options.
type FormatHandler struct {
	opts   []Option
	logger Logger
}

// NewHandler validates opt once and returns a Handler suitable for Server.Serve.
func NewHandler(opt ...Option) (*FormatHandler, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	if err := checkOptions(&opts); err != nil {
		return nil, err
	}

	return &FormatHandler{opts: opt, logger: opts.logger}, nil
}

// Handle runs one request/reply cycle on conn and closes it.
func (h *FormatHandler) Handle(ctx context.Context, conn net.Conn) {
	c, err := NewConn(conn, h.opts...)
	if err != nil {
		h.logger.Error("failed to create connection", "addr", conn.RemoteAddr().String(), "error", err)
		_ = conn.Close()
		return
	}

	_ = c.Run(ctx)
}
