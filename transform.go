package astyled

import (
	"context"
	"fmt"
	"strings"
)

// DefaultMaxOutputSize bounds the memory a single transform may obtain through Env.Alloc.
const DefaultMaxOutputSize = 1024 * 1024

// Env is the set of capabilities handed to a Transformer for one call.
type Env interface {
	// ReportError records a failure. It may be called any number of times;
	// a call marks the whole transform as failed.
	ReportError(code int, message string)
	// Alloc returns a zeroed buffer of size bytes, or nil when the request's
	// output budget would be exceeded.
	Alloc(size int) []byte
}

// Transformer turns source text plus an option string into formatted text.
// Failures are reported through env rather than returned.
type Transformer interface {
	Transform(ctx context.Context, source []byte, options string, env Env) []byte
}

// TransformFunc adapts an ordinary function to the Transformer interface.
type TransformFunc func(ctx context.Context, source []byte, options string, env Env) []byte

// Transform calls f.
func (f TransformFunc) Transform(ctx context.Context, source []byte, options string, env Env) []byte {
	return f(ctx, source, options, env)
}

// TransformError is one error reported by a transform.
type TransformError struct {
	Code    int
	Message string
}

// TransformErrors is returned when a transform reported at least one error.
type TransformErrors []TransformError

// Error joins every message, each followed by a newline. This text is the ERR payload.
func (e TransformErrors) Error() string {
	var b strings.Builder
	for _, te := range e {
		b.WriteString(te.Message)
		b.WriteByte('\n')
	}
	return b.String()
}

// Is makes errors.Is(err, ErrTransform) true for any TransformErrors.
func (e TransformErrors) Is(target error) bool {
	return target == ErrTransform
}

// Codes reports the error codes in the order they were reported.
func (e TransformErrors) Codes() []int {
	codes := make([]int, len(e))
	for i, te := range e {
		codes[i] = te.Code
	}
	return codes
}

// ErrCodePanic is recorded when a transform panics.
const ErrCodePanic = -1

// session is the Env of one transform call. It is owned by a single connection.
type session struct {
	errs      TransformErrors
	allocated int
	limit     int
}

func newSession(limit int) *session {
	if limit <= 0 {
		limit = DefaultMaxOutputSize
	}
	return &session{limit: limit}
}

func (s *session) ReportError(code int, message string) {
	s.errs = append(s.errs, TransformError{Code: code, Message: message})
}

func (s *session) Alloc(size int) []byte {
	if size < 0 || size > s.limit-s.allocated {
		return nil
	}
	s.allocated += size
	return make([]byte, size)
}

// runTransform calls t with a fresh session and turns the reported errors into
// an explicit result. A nil output with no reported errors is an empty success.
func runTransform(ctx context.Context, t Transformer, source []byte, options string, limit int) (out []byte, err error) {
	s := newSession(limit)

	defer func() {
		if r := recover(); r != nil {
			s.ReportError(ErrCodePanic, fmt.Sprintf("transform panicked: %v", r))
			out, err = nil, s.errs
		}
	}()

	out = t.Transform(ctx, source, options, s)
	if len(s.errs) > 0 {
		return nil, s.errs
	}
	return out, nil
}
