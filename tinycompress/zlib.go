// Package tinycompress writes zlib streams made of stored (uncompressed)
// DEFLATE blocks. It needs no tables and allocates once, which keeps it
// usable from TinyGo where compress/flate is too large. Any zlib reader
// decodes its output.
package tinycompress

import (
	"errors"
	"hash/adler32"
	"io"
)

// maxStored is the largest stored block DEFLATE allows.
const maxStored = 65535

var ErrClosed = errors.New("tinycompress: write after close")

// Writer buffers everything written and emits the stream on Close.
type Writer struct {
	output io.Writer
	buf    []byte
	closed bool
}

// NewWriter returns a Writer that writes the zlib stream to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{output: w, buf: make([]byte, 0, 4096)}
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrClosed
	}
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// Close writes the header, the stored blocks and the Adler-32 trailer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	out := make([]byte, 0, len(w.buf)+len(w.buf)/maxStored*5+11)
	out = append(out, 0x78, 0x01) // deflate, 32K window, no preset dictionary

	data := w.buf
	for {
		n := min(len(data), maxStored)
		final := byte(0)
		if n == len(data) {
			final = 1
		}
		l := uint16(n)
		out = append(out, final, byte(l), byte(l>>8), byte(^l), byte(^l>>8))
		out = append(out, data[:n]...)
		data = data[n:]
		if final == 1 {
			break
		}
	}

	sum := adler32.Checksum(w.buf)
	out = append(out, byte(sum>>24), byte(sum>>16), byte(sum>>8), byte(sum))
	_, err := w.output.Write(out)
	return err
}

// Compress returns input as a complete zlib stream.
func Compress(input []byte) []byte {
	var b sliceWriter
	w := NewWriter(&b)
	w.Write(input)
	w.Close()
	return b
}

type sliceWriter []byte

func (s *sliceWriter) Write(p []byte) (int, error) {
	*s = append(*s, p...)
	return len(p), nil
}
