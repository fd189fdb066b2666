package astyled

import "errors"

// Decode-time failures. Each one terminates the connection with an ERR reply.
var (
	// ErrUnexpectedHeader is returned when the first line is not the protocol header.
	ErrUnexpectedHeader = errors.New("unexpected header")
	// ErrUnexpectedEOF is returned when the stream ends before the options section is terminated.
	ErrUnexpectedEOF = errors.New("unexpected end of file")
	// ErrBadOption is returned for an option line without '=', an unknown key or a malformed value.
	ErrBadOption = errors.New("bad option")
	// ErrBadSize is returned when SIZE is missing, non-numeric, not positive or above the limit.
	ErrBadSize = errors.New("bad code size")
	// ErrTruncatedBody is returned when the stream ends before SIZE body bytes were read.
	ErrTruncatedBody = errors.New("truncated body")
)

// ErrTransform is matched by the error returned when the transform reported one or more errors.
var ErrTransform = errors.New("transform failed")

// ErrLineTooLong is returned by Reader.ReadLine when a line does not fit the line limit.
var ErrLineTooLong = errors.New("line too long")

// ErrorKind returns a stable label for err, suitable for logs and metric labels.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnexpectedHeader):
		return "unexpected_header"
	case errors.Is(err, ErrUnexpectedEOF):
		return "unexpected_eof"
	case errors.Is(err, ErrBadOption):
		return "bad_option"
	case errors.Is(err, ErrBadSize):
		return "bad_size"
	case errors.Is(err, ErrTruncatedBody):
		return "truncated_body"
	case errors.Is(err, ErrTransform):
		return "transform_error"
	default:
		return "io_error"
	}
}

// IsDecodeError reports whether err belongs to the decode-time taxonomy.
func IsDecodeError(err error) bool {
	switch ErrorKind(err) {
	case "unexpected_header", "unexpected_eof", "bad_option", "bad_size", "truncated_body":
		return true
	}
	return false
}
