package record

import (
	"encoding/binary"
	"errors"
)

// ErrShortBuffer is returned when a read or write would cross the end of the
// underlying buffer.
var ErrShortBuffer = errors.New("record: short buffer")

// Writer appends little-endian words to a fixed byte slice.
type Writer struct {
	buf []byte
	off int
}

// NewWriter returns a Writer positioned at the start of buf.
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf}
}

// PutU32 appends v.
func (w *Writer) PutU32(v uint32) error {
	if len(w.buf)-w.off < 4 {
		return ErrShortBuffer
	}
	binary.LittleEndian.PutUint32(w.buf[w.off:], v)
	w.off += 4
	return nil
}

// PutU64 appends v.
func (w *Writer) PutU64(v uint64) error {
	if len(w.buf)-w.off < 8 {
		return ErrShortBuffer
	}
	binary.LittleEndian.PutUint64(w.buf[w.off:], v)
	w.off += 8
	return nil
}

// Len returns the number of bytes written.
func (w *Writer) Len() int { return w.off }

// Reader consumes little-endian words from a byte slice.
type Reader struct {
	buf []byte
	off int
}

// NewReader returns a Reader positioned at the start of buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// U32 consumes a 32-bit word.
func (r *Reader) U32() (uint32, error) {
	v, err := r.PeekU32()
	if err == nil {
		r.off += 4
	}
	return v, err
}

// PeekU32 returns the next 32-bit word without consuming it.
func (r *Reader) PeekU32() (uint32, error) {
	if len(r.buf)-r.off < 4 {
		return 0, ErrShortBuffer
	}
	return binary.LittleEndian.Uint32(r.buf[r.off:]), nil
}

// U64 consumes a 64-bit word.
func (r *Reader) U64() (uint64, error) {
	v, err := r.PeekU64()
	if err == nil {
		r.off += 8
	}
	return v, err
}

// PeekU64 returns the next 64-bit word without consuming it.
func (r *Reader) PeekU64() (uint64, error) {
	if len(r.buf)-r.off < 8 {
		return 0, ErrShortBuffer
	}
	return binary.LittleEndian.Uint64(r.buf[r.off:]), nil
}

// Len returns the number of bytes consumed.
func (r *Reader) Len() int { return r.off }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }
