package faerie

import (
	"bytes"
	"encoding/binary"
)

// byteWriter is a little-endian struct/byte accumulator shared by both
// back-ends, grounded on the teacher's emit.go BufferWrapper and its
// pervasive binary.Write(&buf, binary.LittleEndian, ...) idiom.
type byteWriter struct {
	buf bytes.Buffer
}

func (w *byteWriter) put(v any) {
	// binary.Write only fails for types it can't reflect over; every call
	// site here passes a fixed-size struct or scalar, so the error is
	// always nil and is intentionally discarded to keep call sites terse,
	// matching the teacher's own emit.go style.
	_ = binary.Write(&w.buf, binary.LittleEndian, v)
}

func (w *byteWriter) putBytes(b []byte) { w.buf.Write(b) }

func (w *byteWriter) putZero(n int) {
	if n <= 0 {
		return
	}
	w.buf.Write(make([]byte, n))
}

// alignTo pads the buffer with zero bytes until its length is a multiple
// of align (align of 0 or 1 is a no-op).
func (w *byteWriter) alignTo(align int) {
	if align <= 1 {
		return
	}
	if rem := w.buf.Len() % align; rem != 0 {
		w.putZero(align - rem)
	}
}

func (w *byteWriter) Len() int      { return w.buf.Len() }
func (w *byteWriter) Bytes() []byte { return w.buf.Bytes() }

// alignUp rounds n up to the next multiple of align (align must be a
// positive power of two, or 0/1 for "no alignment").
func alignUp(n uint64, align uint64) uint64 {
	if align <= 1 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}
