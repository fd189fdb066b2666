package astyled

import (
	"time"
)

// options holds the configuration for a connection.
type options struct {
	codec       *WireCodec
	transformer Transformer
	logger      Logger
	observer    Observer

	readTimeout   time.Duration // deadline for the whole request/reply cycle
	maxOutputSize int           // budget for Env.Alloc per request
}

// Option is a function that configures connection options.
type Option func(*options)

// TransformerOption sets the transform invoked for every decoded request.
// It is required.
func TransformerOption(t Transformer) Option {
	return func(o *options) {
		o.transformer = t
	}
}

// CodecOption replaces the wire codec, and with it every decode limit.
func CodecOption(codec *WireCodec) Option {
	return func(o *options) {
		o.codec = codec
	}
}

// ReadTimeoutOption sets the deadline applied to the socket when a connection starts.
// It covers reading the request and writing the reply.
func ReadTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.readTimeout = timeout
	}
}

// MaxBodySizeOption sets the largest SIZE a request may declare.
func MaxBodySizeOption(size int) Option {
	return func(o *options) {
		o.codecForUpdate().MaxBodySize = size
	}
}

// MaxLineLengthOption sets the longest accepted header or option line.
func MaxLineLengthOption(size int) Option {
	return func(o *options) {
		o.codecForUpdate().MaxLineLength = size
	}
}

// MaxOutputSizeOption bounds the memory a transform may allocate for one request.
func MaxOutputSizeOption(size int) Option {
	return func(o *options) {
		o.maxOutputSize = size
	}
}

// LoggerOption sets the logger. If not set, the default slog logger is used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// ObserverOption sets the receiver of connection lifecycle events.
func ObserverOption(observer Observer) Option {
	return func(o *options) {
		o.observer = observer
	}
}

// codecForUpdate returns a codec owned by o, copying a shared one first.
func (o *options) codecForUpdate() *WireCodec {
	if o.codec == nil {
		o.codec = NewWireCodec()
	} else {
		c := *o.codec
		o.codec = &c
	}
	return o.codec
}
