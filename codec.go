package astyled

import (
	"bytes"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Default limits.
const (
	// DefaultMaxBodySize is the largest accepted request body (20 KiB).
	DefaultMaxBodySize = 20 * 1024
	// DefaultMaxLineLength bounds header and option lines, terminator included.
	DefaultMaxLineLength = 2048
	// DefaultMaxReplySize bounds the payload a client accepts in a reply.
	DefaultMaxReplySize = 1024 * 1024
)

// State is the position of a connection in its request/reply cycle.
type State int

// Connection states in the order they are entered.
const (
	StateAwaitHeader State = iota
	StateAwaitOptions
	StateAwaitBody
	StateTransform
	StateReply
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitHeader:
		return "await_header"
	case StateAwaitOptions:
		return "await_options"
	case StateAwaitBody:
		return "await_body"
	case StateTransform:
		return "transform"
	case StateReply:
		return "reply"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// WireCodec decodes requests and encodes replies. The zero value uses the default limits.
type WireCodec struct {
	MaxBodySize   int
	MaxLineLength int
	MaxReplySize  int
}

// NewWireCodec returns a codec with the default limits.
func NewWireCodec() *WireCodec {
	return &WireCodec{
		MaxBodySize:   DefaultMaxBodySize,
		MaxLineLength: DefaultMaxLineLength,
		MaxReplySize:  DefaultMaxReplySize,
	}
}

func (c *WireCodec) maxBody() int {
	if c == nil || c.MaxBodySize <= 0 {
		return DefaultMaxBodySize
	}
	return c.MaxBodySize
}

func (c *WireCodec) maxLine() int {
	if c == nil || c.MaxLineLength <= 0 {
		return DefaultMaxLineLength
	}
	return c.MaxLineLength
}

func (c *WireCodec) maxReply() int {
	if c == nil || c.MaxReplySize <= 0 {
		return DefaultMaxReplySize
	}
	return c.MaxReplySize
}

// Decoder reads one request from a stream and remembers how far it got.
type Decoder struct {
	r       *Reader
	maxBody int
	state   State
}

// NewDecoder returns a Decoder reading from r. If r is already a *Reader it is used as is.
func (c *WireCodec) NewDecoder(r io.Reader) *Decoder {
	rd, ok := r.(*Reader)
	if !ok {
		rd = NewReader(r, c.maxLine())
	}
	return &Decoder{r: rd, maxBody: c.maxBody(), state: StateAwaitHeader}
}

// DecodeRequest reads one request from r.
func (c *WireCodec) DecodeRequest(r io.Reader) (*Request, error) {
	return c.NewDecoder(r).Decode()
}

// State returns the decode state reached so far.
func (d *Decoder) State() State {
	return d.state
}

// Decode reads the header, the options section and exactly SIZE body bytes.
func (d *Decoder) Decode() (*Request, error) {
	d.state = StateAwaitHeader
	if err := d.readHeader(); err != nil {
		return nil, err
	}

	d.state = StateAwaitOptions
	req := &Request{Options: make(map[string]string)}
	err := readOptions(d.r, func(key, value string) error {
		if !knownOptions[key] {
			return errors.WithMessagef(ErrBadOption, "unknown key %q", key)
		}
		if key == OptionSize {
			n, err := parseSize(value)
			if err != nil {
				return err
			}
			req.Size = n
		} else if !isAlpha(value) {
			return errors.WithMessagef(ErrBadOption, "%s=%q is not alphabetic", key, value)
		}
		req.Options[key] = value
		return nil
	})
	if err != nil {
		return nil, err
	}

	if req.Size <= 0 || req.Size > d.maxBody {
		return nil, errors.WithMessagef(ErrBadSize, "SIZE=%d outside [1, %d]", req.Size, d.maxBody)
	}

	d.state = StateAwaitBody
	body, err := d.r.ReadFull(req.Size)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, errors.WithMessagef(ErrTruncatedBody, "got %d of %d bytes", len(body), req.Size)
		}
		return nil, errors.WithMessage(err, "read body")
	}
	req.Body = body

	return req, nil
}

func (d *Decoder) readHeader() error {
	line, err := d.r.ReadLine()
	switch {
	case errors.Is(err, ErrLineTooLong):
		return errors.WithMessage(ErrUnexpectedHeader, "header line too long")
	case errors.Is(err, io.EOF) && len(line) == 0:
		return errors.WithMessage(ErrUnexpectedEOF, "reading header")
	case err != nil && !errors.Is(err, io.EOF):
		return errors.WithMessage(err, "read header")
	}

	if string(line) != RequestHeader {
		return errors.WithMessagef(ErrUnexpectedHeader, "expected %s but got %q", RequestHeader, line)
	}
	return nil
}

// readOptions reads key=value lines up to the blank line ending the section.
func readOptions(r *Reader, fn func(key, value string) error) error {
	for {
		line, err := r.ReadLine()
		switch {
		case errors.Is(err, ErrLineTooLong):
			return errors.WithMessage(ErrBadOption, "option line too long")
		case errors.Is(err, io.EOF):
			return errors.WithMessage(ErrUnexpectedEOF, "options section not terminated")
		case err != nil:
			return errors.WithMessage(err, "read options")
		}

		if len(line) == 0 {
			return nil
		}

		key, value, ok := strings.Cut(string(line), "=")
		if !ok {
			return errors.WithMessagef(ErrBadOption, "missing '=' in %q", line)
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
}

// parseSize accepts one or more ASCII digits.
func parseSize(value string) (int, error) {
	if value == "" {
		return 0, errors.WithMessage(ErrBadSize, "empty SIZE")
	}
	for i := 0; i < len(value); i++ {
		if value[i] < '0' || value[i] > '9' {
			return 0, errors.WithMessagef(ErrBadSize, "SIZE=%q is not a decimal number", value)
		}
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.WithMessagef(ErrBadSize, "SIZE=%q: %v", value, err)
	}
	return n, nil
}

func isAlpha(value string) bool {
	if value == "" {
		return false
	}
	for i := 0; i < len(value); i++ {
		c := value[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
			return false
		}
	}
	return true
}

// EncodeReply frames r as "<STATUS>\nSIZE=<N>\n\n<payload>", where N is the payload length.
func EncodeReply(r Reply) []byte {
	size := strconv.Itoa(len(r.Payload))

	var b bytes.Buffer
	b.Grow(len(r.Status) + len(size) + len(r.Payload) + 10)
	b.WriteString(string(r.Status))
	b.WriteString("\n" + OptionSize + "=")
	b.WriteString(size)
	b.WriteString("\n\n")
	b.Write(r.Payload)
	if r.trailingNewline {
		b.WriteByte('\n')
	}
	return b.Bytes()
}

// WriteReply encodes r and writes it to w in a single call.
func WriteReply(w io.Writer, r Reply) error {
	_, err := w.Write(EncodeReply(r))
	return errors.WithMessage(err, "write reply")
}

// EncodeRequest frames req for sending to a server. SIZE is computed from the body;
// any SIZE entry in req.Options is ignored.
func (c *WireCodec) EncodeRequest(req Request) ([]byte, error) {
	if len(req.Body) == 0 || len(req.Body) > c.maxBody() {
		return nil, errors.WithMessagef(ErrBadSize, "body of %d bytes outside [1, %d]", len(req.Body), c.maxBody())
	}

	keys := make([]string, 0, len(req.Options))
	for k, v := range req.Options {
		if k == OptionSize {
			continue
		}
		if !knownOptions[k] {
			return nil, errors.WithMessagef(ErrBadOption, "unknown key %q", k)
		}
		if !isAlpha(v) {
			return nil, errors.WithMessagef(ErrBadOption, "%s=%q is not alphabetic", k, v)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b bytes.Buffer
	b.WriteString(RequestHeader + "\n")
	b.WriteString(OptionSize + "=" + strconv.Itoa(len(req.Body)) + "\n")
	for _, k := range keys {
		b.WriteString(k + "=" + req.Options[k] + "\n")
	}
	b.WriteByte('\n')
	b.Write(req.Body)
	return b.Bytes(), nil
}

// DecodeReply reads one reply from r. SIZE=0 is allowed; bytes after the payload are not read.
func (c *WireCodec) DecodeReply(r io.Reader) (Reply, error) {
	rd, ok := r.(*Reader)
	if !ok {
		rd = NewReader(r, c.maxLine())
	}

	line, err := rd.ReadLine()
	switch {
	case errors.Is(err, ErrLineTooLong):
		return Reply{}, errors.WithMessage(ErrUnexpectedHeader, "status line too long")
	case errors.Is(err, io.EOF) && len(line) == 0:
		return Reply{}, errors.WithMessage(ErrUnexpectedEOF, "reading status")
	case err != nil && !errors.Is(err, io.EOF):
		return Reply{}, errors.WithMessage(err, "read status")
	}

	status := Status(line)
	if status != StatusOK && status != StatusErr {
		return Reply{}, errors.WithMessagef(ErrUnexpectedHeader, "unknown reply status %q", line)
	}

	size := -1
	err = readOptions(rd, func(key, value string) error {
		if key != OptionSize {
			return errors.WithMessagef(ErrBadOption, "unexpected reply option %q", key)
		}
		n, err := parseSize(value)
		if err != nil {
			return err
		}
		size = n
		return nil
	})
	if err != nil {
		return Reply{}, err
	}
	if size < 0 {
		return Reply{}, errors.WithMessage(ErrBadSize, "reply without SIZE")
	}
	if size > c.maxReply() {
		return Reply{}, errors.WithMessagef(ErrBadSize, "reply SIZE=%d exceeds %d", size, c.maxReply())
	}

	payload, err := rd.ReadFull(size)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Reply{}, errors.WithMessagef(ErrTruncatedBody, "got %d of %d bytes", len(payload), size)
		}
		return Reply{}, errors.WithMessage(err, "read reply payload")
	}

	return Reply{Status: status, Payload: payload}, nil
}
