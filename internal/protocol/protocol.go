// Package protocol implements the framed message codec used on the control
// socket: one JSON object per logical message, newline-terminated on the
// write side, with a receive path tolerant of concatenated objects, split
// reads and interleaved garbage.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Resynchronization bounds for the receive buffer. When more than
// maxUnparsed bytes cannot be decoded the buffer is cut down to its last
// keepTail bytes, accepting possible message loss to bound memory.
const (
	maxUnparsed = 1000
	keepTail    = 500
)

// Write marshals v and writes it as a single newline-terminated frame.
func Write(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	b = append(b, '\n')
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// Decoder reassembles discrete JSON messages from a byte stream. Feed raw
// bytes as they arrive, then drain messages with Next. A Decoder is not
// safe for concurrent use.
//
// The decoder does not require newline separators: it repeatedly decodes a
// JSON value at the current offset, skips whitespace, and on a syntax error
// seeks forward to the next '{' (dropping the garbage in between). An
// incomplete trailing object is kept until more bytes arrive.
type Decoder struct {
	buf     []byte
	dropped int
}

// Feed appends raw bytes received from the peer.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Dropped returns the cumulative count of bytes discarded during
// resynchronization. Callers can diff it across Next calls to detect that a
// malformed frame was swallowed.
func (d *Decoder) Dropped() int { return d.dropped }

// Buffered returns the number of bytes awaiting decode.
func (d *Decoder) Buffered() int { return len(d.buf) }

// Next decodes the next complete message into v. It returns false when the
// buffer holds no complete message; feed more bytes and call again.
// Malformed input never returns an error — it is dropped per the
// resynchronization policy and counted in Dropped.
func (d *Decoder) Next(v any) bool {
	for {
		d.buf = bytes.TrimLeft(d.buf, " \t\r\n")
		if len(d.buf) == 0 {
			return false
		}

		dec := json.NewDecoder(bytes.NewReader(d.buf))
		err := dec.Decode(v)
		if err == nil {
			d.buf = d.buf[dec.InputOffset():]
			return true
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			// Incomplete message; wait for more bytes.
			return false
		}

		// Malformed input. Bound the buffer, then seek to the next
		// candidate object start.
		if len(d.buf) > maxUnparsed {
			d.dropped += len(d.buf) - keepTail
			d.buf = append(d.buf[:0:0], d.buf[len(d.buf)-keepTail:]...)
			continue
		}
		next := bytes.IndexByte(d.buf[1:], '{')
		if next < 0 {
			d.dropped += len(d.buf)
			d.buf = d.buf[:0]
			return false
		}
		d.dropped += next + 1
		d.buf = d.buf[next+1:]
	}
}
