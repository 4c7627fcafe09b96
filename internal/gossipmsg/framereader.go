package gossipmsg

import (
	"bytes"
	"io"
)

// FrameReader incrementally extracts newline-delimited frames from a
// stream, buffering any partial trailing line across reads (spec §4.3: "a
// single TCP read may contain zero, one, or several messages plus a
// partial trailing line"). Lines longer than MaxMessageSize are dropped
// without ever being handed to the caller, rather than causing an error —
// oversize frames are a protocol-layer concern (§7), not an I/O one.
type FrameReader struct {
	r   io.Reader
	buf []byte
	tmp [4096]byte
}

// NewFrameReader wraps r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r}
}

// ReadFrame blocks until a complete newline-terminated frame is available,
// io.EOF is reached, or a read error occurs. oversized reports whether one
// or more oversize lines were silently discarded while searching for the
// next valid frame, so the caller can bump a diagnostics counter.
func (f *FrameReader) ReadFrame() (frame []byte, oversized bool, err error) {
	for {
		if idx := bytes.IndexByte(f.buf, '\n'); idx >= 0 {
			line := f.buf[:idx]
			f.buf = f.buf[idx+1:]
			if len(line) > MaxMessageSize {
				oversized = true
				continue
			}
			out := make([]byte, len(line))
			copy(out, line)
			return out, oversized, nil
		}

		if len(f.buf) > MaxMessageSize*4 {
			// No newline found within a generous multiple of the cap:
			// the peer is sending garbage. Drop the buffered bytes and
			// keep the connection open — a malformed peer must not be
			// able to wedge the reader (spec §7).
			f.buf = f.buf[:0]
			oversized = true
		}

		n, rerr := f.r.Read(f.tmp[:])
		if n > 0 {
			f.buf = append(f.buf, f.tmp[:n]...)
		}
		if rerr != nil {
			return nil, oversized, rerr
		}
	}
}
