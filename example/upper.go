package main

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Zereker/astyled"
)

// upper is a stand-in transform: it upper-cases the source and rejects any
// request carrying a style option, showing how failures are reported.
func upper(_ context.Context, source []byte, options string, env astyled.Env) []byte {
	for _, line := range strings.Split(options, "\n") {
		if strings.HasPrefix(line, astyled.OptionStyle+"=") {
			env.ReportError(1, "upper does not support styles")
		}
	}

	out := env.Alloc(len(source))
	if out == nil {
		env.ReportError(2, "output too large")
		return nil
	}
	copy(out, bytes.ToUpper(source))
	return out
}

func main() {
	addr, err := net.ResolveTCPAddr("tcp", "127.0.0.1:8007")
	if err != nil {
		panic(err)
	}

	server, err := astyled.New(addr)
	if err != nil {
		slog.Error("failed to create server", "error", err)
		return
	}

	handler, err := astyled.NewHandler(astyled.TransformerOption(astyled.TransformFunc(upper)))
	if err != nil {
		slog.Error("failed to create handler", "error", err)
		return
	}

	// Handle graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("server start", "addr", addr.String())
	if err := server.Serve(ctx, handler); err != nil && err != context.Canceled {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
