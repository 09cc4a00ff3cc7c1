package hyperion

import (
	"bytes"
	"fmt"
)

// frameDelimiter terminates every frame in both directions.
const frameDelimiter = '\n'

// defaultMaxFrameSize bounds the unterminated tail of the receive buffer.
const defaultMaxFrameSize = 1 << 20

// Framer turns a stream of arbitrarily sized chunks into newline-delimited
// frames, retaining any trailing partial frame across calls.
//
// A Framer is not safe for concurrent use. The client gives each connection
// its own Framer, driven only by that connection's reader goroutine.
type Framer struct {
	buf     []byte
	maxSize int

	// tail is the number of bytes after the last delimiter in buf.
	tail int
}

// NewFramer creates a Framer that rejects partial frames longer than
// maxSize bytes. A maxSize of zero or less selects the default of 1 MiB.
func NewFramer(maxSize int) *Framer {
	if maxSize <= 0 {
		maxSize = defaultMaxFrameSize
	}
	return &Framer{maxSize: maxSize}
}

// Append adds chunk to the receive buffer.
//
// Returns ErrFrameTooLarge if the unterminated tail of the buffer now
// exceeds the frame limit. The frames completed by chunk are still
// buffered for Extract; only the oversized tail is refused. The connection
// is no longer usable because the stream can no longer be framed reliably.
func (f *Framer) Append(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	last := bytes.LastIndexByte(chunk, frameDelimiter)
	tail := f.tail + len(chunk)
	if last >= 0 {
		tail = len(chunk) - last - 1
	}
	if tail > f.maxSize {
		if last >= 0 {
			f.buf = append(f.buf, chunk[:last+1]...)
			f.tail = 0
		}
		return fmt.Errorf("%w: %d bytes without delimiter (limit %d)", ErrFrameTooLarge, tail, f.maxSize)
	}

	f.buf = append(f.buf, chunk...)
	f.tail = tail
	return nil
}

// Extract returns every complete frame in the buffer, in arrival order,
// without their delimiters.
//
// The bytes after the last delimiter stay in the buffer for the next call.
// If the buffer holds no delimiter, Extract returns nil and leaves the
// buffer untouched. Two consecutive delimiters yield an empty frame.
func (f *Framer) Extract() []string {
	last := bytes.LastIndexByte(f.buf, frameDelimiter)
	if last < 0 {
		return nil
	}

	parts := bytes.Split(f.buf[:last], []byte{frameDelimiter})
	frames := make([]string, len(parts))
	for i, p := range parts {
		frames[i] = string(p)
	}

	// Shift the remainder to the front so the backing array is reused.
	n := copy(f.buf, f.buf[last+1:])
	f.buf = f.buf[:n]
	f.tail = n

	return frames
}

// Buffered returns the bytes received but not yet extracted as a frame.
func (f *Framer) Buffered() string {
	return string(f.buf)
}

// Len returns the number of buffered bytes.
func (f *Framer) Len() int {
	return len(f.buf)
}

// Reset discards all buffered bytes.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
	f.tail = 0
}
