// Package framer converts between a byte stream and newline-delimited
// JSON messages.
package framer

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	leaperrors "github.com/lightforgemedia/go-leapmq/pkg/errors"
	"github.com/lightforgemedia/go-leapmq/pkg/model"
)

const (
	// DefaultMaxLineSize bounds a single inbound document.
	DefaultMaxLineSize = 4 << 20

	readBufferSize      = 64 << 10
	delimiter      byte = '\n'
)

var (
	errLineTooLong       = errors.New("line exceeds maximum size")
	errMissingCommunique = errors.New("missing CommuniqueType")
)

// Reader yields parsed messages from a stream. One Reader serves one
// connection; create a new one on reconnect.
type Reader struct {
	br      *bufio.Reader
	buf     []byte
	maxLine int
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithMaxLineSize caps the accepted document size in bytes.
func WithMaxLineSize(n int) ReaderOption {
	return func(r *Reader) {
		if n > 0 {
			r.maxLine = n
		}
	}
}

// NewReader wraps r.
func NewReader(r io.Reader, opts ...ReaderOption) *Reader {
	fr := &Reader{
		br:      bufio.NewReaderSize(r, readBufferSize),
		maxLine: DefaultMaxLineSize,
	}
	for _, opt := range opts {
		opt(fr)
	}
	return fr
}

// Next returns the next message. A line that does not parse yields a
// *errors.MalformedError and the reader stays usable; any other error is
// terminal for the stream.
func (r *Reader) Next() (*model.Message, error) {
	for {
		line, tooLong, err := r.readLine()
		if err != nil {
			return nil, err
		}
		if tooLong {
			return nil, &leaperrors.MalformedError{Line: bytes.Clone(line), Err: errLineTooLong}
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		msg, err := Decode(line)
		if err != nil {
			return nil, err
		}
		return msg, nil
	}
}

// readLine returns one delimiter-terminated line without the delimiter.
// Lines longer than maxLine are consumed to their end and flagged; only a
// prefix is kept.
func (r *Reader) readLine() ([]byte, bool, error) {
	r.buf = r.buf[:0]
	tooLong := false
	for {
		chunk, err := r.br.ReadSlice(delimiter)
		if !tooLong {
			if len(r.buf)+len(chunk) > r.maxLine {
				tooLong = true
				keep := min(len(chunk), 256)
				r.buf = append(r.buf[:0], chunk[:keep]...)
			} else {
				r.buf = append(r.buf, chunk...)
			}
		}
		switch {
		case err == nil:
			return bytes.TrimSuffix(r.buf, []byte{delimiter}), tooLong, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			// A trailing partial document without its delimiter is dropped.
			return nil, false, err
		}
	}
}

// Decode parses a single document (without its delimiter).
func Decode(line []byte) (*model.Message, error) {
	var msg model.Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, &leaperrors.MalformedError{Line: bytes.Clone(line), Err: err}
	}
	if msg.CommuniqueType == "" {
		return nil, &leaperrors.MalformedError{Line: bytes.Clone(line), Err: errMissingCommunique}
	}
	return &msg, nil
}

// Encode serializes msg as exactly one newline-terminated JSON document.
func Encode(msg *model.Message) ([]byte, error) {
	if msg == nil {
		return nil, errors.New("framer: nil message")
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("framer: encode %s %s: %w", msg.CommuniqueType, msg.Header.Url, err)
	}
	return append(raw, delimiter), nil
}

// Writer serializes messages onto a stream. It is not safe for concurrent use.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write encodes msg and writes it in a single call.
func (w *Writer) Write(msg *model.Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	_, err = w.w.Write(data)
	return err
}
