package astyled

import (
	"bufio"
	"bytes"
	"io"

	"github.com/pkg/errors"
)

// minReaderSize matches the smallest buffer bufio accepts.
const minReaderSize = 16

// Reader is a buffered reader with explicit line and exact-length reads.
// Lines are bounded by maxLine bytes including the '\n' terminator.
type Reader struct {
	br      *bufio.Reader
	maxLine int
}

// NewReader wraps r. A non-positive maxLine selects DefaultMaxLineLength.
func NewReader(r io.Reader, maxLine int) *Reader {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineLength
	}
	size := maxLine
	if size < minReaderSize {
		size = minReaderSize
	}
	return &Reader{br: bufio.NewReaderSize(r, size), maxLine: maxLine}
}

// ReadLine returns the next line without its '\n'. The returned slice is a copy.
//
// When the stream ends before a terminator, ReadLine returns the partial line
// (possibly empty) together with io.EOF. A line longer than the limit yields
// ErrLineTooLong; the reader is then positioned mid-line and should be discarded.
func (r *Reader) ReadLine() ([]byte, error) {
	line, err := r.br.ReadSlice('\n')
	if len(line) > r.maxLine || errors.Is(err, bufio.ErrBufferFull) {
		return nil, errors.WithMessagef(ErrLineTooLong, "limit %d bytes", r.maxLine)
	}

	out := bytes.Clone(line)
	if err != nil {
		return out, err
	}
	return out[:len(out)-1], nil
}

// Read reads from the underlying buffer, so bytes already buffered are not lost
// when a Reader is handed to code expecting an io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	return r.br.Read(p)
}

// ReadFull reads exactly n bytes. It returns io.EOF when nothing could be read
// and io.ErrUnexpectedEOF when the stream ended part way.
func (r *Reader) ReadFull(n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := io.ReadFull(r.br, buf)
	return buf[:read], err
}

// Buffered returns the number of bytes that can be read without touching the stream.
func (r *Reader) Buffered() int {
	return r.br.Buffered()
}
