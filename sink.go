package faerie

import (
	"bytes"
	"io"
	"os"
)

// Sink is the byte-sink contract back-ends serialize into: sequential
// writes plus a position query. No seek is required — back-ends plan
// section/segment layout entirely in memory before emitting a single
// linear byte stream (spec.md §6).
type Sink interface {
	Write(p []byte) (int, error)
	Pos() int64
}

// countingSink adapts any io.Writer into a Sink by tracking the number of
// bytes written so far as its position. This works uniformly whether the
// underlying writer is a file, an in-memory buffer, or a socket.
type countingSink struct {
	w   io.Writer
	pos int64
}

// NewSink wraps an arbitrary io.Writer as a Sink.
func NewSink(w io.Writer) Sink {
	if s, ok := w.(Sink); ok {
		return s
	}
	return &countingSink{w: w}
}

func (s *countingSink) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	s.pos += int64(n)
	return n, err
}

func (s *countingSink) Pos() int64 { return s.pos }

// BufferSink is a Sink backed by an in-memory buffer.
type BufferSink struct {
	countingSink
	buf *bytes.Buffer
}

// NewBufferSink creates an empty in-memory Sink.
func NewBufferSink() *BufferSink {
	buf := &bytes.Buffer{}
	return &BufferSink{countingSink: countingSink{w: buf}, buf: buf}
}

// Bytes returns the accumulated output.
func (b *BufferSink) Bytes() []byte { return b.buf.Bytes() }

// FileSink is a Sink backed by an *os.File, opened for sequential
// writing.
type FileSink struct {
	countingSink
	f *os.File
}

// CreateFileSink creates (truncating) the named file and returns a Sink
// over it. The caller is responsible for closing the returned FileSink.
func CreateFileSink(path string) (*FileSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, IoError{Cause: err}
	}
	return &FileSink{countingSink: countingSink{w: f}, f: f}, nil
}

// Close closes the underlying file.
func (fs *FileSink) Close() error { return fs.f.Close() }
