package thd

import (
	"io"
	"unicode/utf8"
)

// RuneWriter reassembles a raw byte stream into whole UTF-8 characters
// before handing them to the sink, so a multi-byte character is never
// split across two writes. Bytes that can never form a valid character
// are passed through verbatim.
type RuneWriter struct {
	w   io.Writer
	buf []byte
}

func NewRuneWriter(w io.Writer) *RuneWriter {
	return &RuneWriter{w: w}
}

func (rw *RuneWriter) WriteByte(b byte) error {
	rw.buf = append(rw.buf, b)
	return rw.drain()
}

// drain emits every complete character at the front of the buffer,
// keeping only a trailing partial sequence that may still complete.
func (rw *RuneWriter) drain() error {
	for len(rw.buf) > 0 {
		if !utf8.FullRune(rw.buf) {
			if len(rw.buf) < utf8.UTFMax {
				// may still complete with more bytes
				return nil
			}
			// a sequence longer than UTFMax can never complete
			if err := rw.emit(1); err != nil {
				return err
			}
			continue
		}
		r, size := utf8.DecodeRune(rw.buf)
		if r == utf8.RuneError && size == 1 {
			// not a valid encoding, pass the byte through
			if err := rw.emit(1); err != nil {
				return err
			}
			continue
		}
		if err := rw.emit(size); err != nil {
			return err
		}
	}
	return nil
}

func (rw *RuneWriter) emit(n int) error {
	if _, err := rw.w.Write(rw.buf[:n]); err != nil {
		return err
	}
	rw.buf = rw.buf[n:]
	return nil
}

// Flush writes out any leftover partial sequence verbatim. Called at end
// of stream, where leftovers can no longer complete.
func (rw *RuneWriter) Flush() error {
	if len(rw.buf) == 0 {
		return nil
	}
	return rw.emit(len(rw.buf))
}
