package astyled

import (
	"sort"
	"strings"
)

// Protocol literals.
const (
	// RequestHeader is the mandatory first line of every request.
	RequestHeader = "ASTYLE"

	// OptionSize is the option carrying the byte length of the body.
	OptionSize = "SIZE"
	// OptionMode selects the source language of the body.
	OptionMode = "mode"
	// OptionStyle selects the bracket style.
	OptionStyle = "style"
)

// knownOptions lists every key a request may carry.
var knownOptions = map[string]bool{
	OptionSize:  true,
	OptionMode:  true,
	OptionStyle: true,
}

// Request is one decoded formatting request.
type Request struct {
	// Options maps each option key to its value without the line terminator.
	// SIZE is kept here as its digit string.
	Options map[string]string
	// Size is the declared body length.
	Size int
	// Body holds exactly Size bytes of source text.
	Body []byte
}

// OptionSet renders every option except SIZE as "key=value\n", keys in
// ascending order. This is the option string handed to the transform.
func (r *Request) OptionSet() string {
	keys := make([]string, 0, len(r.Options))
	for k := range r.Options {
		if k == OptionSize {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(r.Options[k])
		b.WriteByte('\n')
	}
	return b.String()
}

// Status is the first line of a reply.
type Status string

// Reply statuses.
const (
	StatusOK  Status = "OK"
	StatusErr Status = "ERR"
)

// Reply is either a formatted payload or an error message.
type Reply struct {
	Status  Status
	Payload []byte

	// trailingNewline appends '\n' after the payload without counting it in SIZE.
	// Decode-time failures are framed this way on the wire.
	trailingNewline bool
}

// Success returns an OK reply carrying payload.
func Success(payload []byte) Reply {
	return Reply{Status: StatusOK, Payload: payload}
}

// Failure returns an ERR reply for an error reported after a successful decode.
func Failure(message string) Reply {
	return Reply{Status: StatusErr, Payload: []byte(message)}
}

// decodeFailure returns an ERR reply for a protocol violation.
func decodeFailure(message string) Reply {
	return Reply{Status: StatusErr, Payload: []byte(message), trailingNewline: true}
}

// OK reports whether r is a success reply.
func (r Reply) OK() bool {
	return r.Status == StatusOK
}

// Message returns the payload of an ERR reply as a string.
func (r Reply) Message() string {
	if r.OK() {
		return ""
	}
	return string(r.Payload)
}
