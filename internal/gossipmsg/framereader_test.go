package gossipmsg

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestFrameReaderSplitsMultipleFrames(t *testing.T) {
	r := NewFrameReader(strings.NewReader("one\ntwo\nthree\n"))

	var got []string
	for {
		frame, oversized, err := r.ReadFrame()
		if oversized {
			t.Error("unexpected oversized line")
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			t.Fatalf("ReadFrame: %v", err)
		}
		got = append(got, string(frame))
	}

	want := []string{"one", "two", "three"}
	if len(got) != len(want) {
		t.Fatalf("got %v frames, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d = %q, want %q", i, got[i], want[i])
		}
	}
}

// partialReader feeds its input one chunk at a time, simulating a TCP
// stream that may split a frame across multiple reads.
type partialReader struct {
	chunks [][]byte
}

func (p *partialReader) Read(buf []byte) (int, error) {
	if len(p.chunks) == 0 {
		return 0, io.EOF
	}
	chunk := p.chunks[0]
	p.chunks = p.chunks[1:]
	n := copy(buf, chunk)
	return n, nil
}

func TestFrameReaderBuffersPartialLineAcrossReads(t *testing.T) {
	r := NewFrameReader(&partialReader{chunks: [][]byte{
		[]byte("hel"),
		[]byte("lo\nwor"),
		[]byte("ld\n"),
	}})

	frame, _, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame (1): %v", err)
	}
	if string(frame) != "hello" {
		t.Errorf("frame 1 = %q, want %q", frame, "hello")
	}

	frame, _, err = r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame (2): %v", err)
	}
	if string(frame) != "world" {
		t.Errorf("frame 2 = %q, want %q", frame, "world")
	}
}

func TestFrameReaderDiscardsOversizeLine(t *testing.T) {
	oversize := bytes.Repeat([]byte("a"), MaxMessageSize+10)
	input := append(append([]byte{}, oversize...), '\n')
	input = append(input, []byte("short\n")...)

	r := NewFrameReader(bytes.NewReader(input))
	frame, oversized, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !oversized {
		t.Error("expected oversized=true after discarding an oversize line")
	}
	if string(frame) != "short" {
		t.Errorf("frame = %q, want %q", frame, "short")
	}
}
