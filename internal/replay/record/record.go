package record

import "errors"

var (
	// ErrNoData is returned by the decoders when the next slot is
	// unwritten. The reader is left positioned at that slot.
	ErrNoData = errors.New("record: no more data")

	// ErrZeroTag is returned when encoding a record whose tag would read
	// back as ErrNoData.
	ErrZeroTag = errors.New("record: zero tag is unencodable")
)

// Record is one encoded unit of a per-thread log.
type Record interface {
	// Encode appends the record to w.
	Encode(w *Writer) error

	// Size returns the encoded length in bytes.
	Size() int
}

// CompactRecord is the decoded form of a compact record.
//
// Flags decides which optional words are present. NewCompact derives it from
// the field values; a record built by hand may set FlagSkippedClock with a
// zero Skip to force a non-zero tag.
type CompactRecord struct {
	Run       uint32
	Flags     uint32
	Skip      uint64
	Retval    int32
	FakeCalls uint32
}

// NewCompact builds a compact record closing a run of run boring events.
func NewCompact(run uint32, skip uint64, retval int32, fakeCalls uint32) CompactRecord {
	c := CompactRecord{Run: run & RunMask, Skip: skip, Retval: retval, FakeCalls: fakeCalls}
	if skip != 0 {
		c.Flags |= FlagSkippedClock
	}
	if retval != 0 {
		c.Flags |= FlagNonzeroRetval
	}
	if fakeCalls != 0 {
		c.Flags |= FlagFakeCalls
	}
	return c
}

// Tag returns the tag word.
func (c CompactRecord) Tag() uint32 {
	return c.Run&RunMask | c.Flags&flagMask
}

// Size implements Record.
func (c CompactRecord) Size() int {
	n := 4
	if c.Flags&FlagSkippedClock != 0 {
		n += 8
	}
	if c.Flags&FlagNonzeroRetval != 0 {
		n += 4
	}
	if c.Flags&FlagFakeCalls != 0 {
		n += 4
	}
	return n
}

// Encode implements Record. Nothing is written if the record does not fit.
func (c CompactRecord) Encode(w *Writer) error {
	if len(w.buf)-w.off < c.Size() {
		return ErrShortBuffer
	}
	tag := c.Tag()
	if tag == 0 {
		return ErrZeroTag
	}
	if err := w.PutU32(tag); err != nil {
		return err
	}
	if tag&FlagSkippedClock != 0 {
		if err := w.PutU64(c.Skip); err != nil {
			return err
		}
	}
	if tag&FlagNonzeroRetval != 0 {
		if err := w.PutU32(uint32(c.Retval)); err != nil {
			return err
		}
	}
	if tag&FlagFakeCalls != 0 {
		if err := w.PutU32(c.FakeCalls); err != nil {
			return err
		}
	}
	return nil
}

// PeekCompactTag returns the next tag word without consuming it, or
// ErrNoData if the slot is unwritten.
func PeekCompactTag(r *Reader) (uint32, error) {
	tag, err := r.PeekU32()
	if err != nil {
		return 0, err
	}
	if tag == 0 {
		return 0, ErrNoData
	}
	return tag, nil
}

// DecodeCompact consumes one compact record. On error the reader is left
// where it was.
func DecodeCompact(r *Reader) (CompactRecord, error) {
	start := r.off
	c, err := decodeCompact(r)
	if err != nil {
		r.off = start
	}
	return c, err
}

func decodeCompact(r *Reader) (CompactRecord, error) {
	tag, err := PeekCompactTag(r)
	if err != nil {
		return CompactRecord{}, err
	}
	r.off += 4

	c := CompactRecord{Run: tag & RunMask, Flags: tag & flagMask}
	if tag&FlagSkippedClock != 0 {
		if c.Skip, err = r.U64(); err != nil {
			return CompactRecord{}, err
		}
	}
	if tag&FlagNonzeroRetval != 0 {
		v, err := r.U32()
		if err != nil {
			return CompactRecord{}, err
		}
		c.Retval = int32(v)
	}
	if tag&FlagFakeCalls != 0 {
		if c.FakeCalls, err = r.U32(); err != nil {
			return CompactRecord{}, err
		}
	}
	return c, nil
}

// VerboseRecord is one verbose record.
//
// When Tag is TagFakeCalls, Retval holds the number of fake calls to
// sequence and the other fields are zero.
type VerboseRecord struct {
	Clock  uint64
	Retval int32
	Tag    Tag
	Check  uint64
}

// NewFakeCalls builds the verbose pseudo-record announcing n fake calls.
func NewFakeCalls(n uint32) VerboseRecord {
	return VerboseRecord{Retval: int32(n), Tag: TagFakeCalls}
}

// IsFakeCalls reports whether v is a fake-calls pseudo-record.
func (v VerboseRecord) IsFakeCalls() bool { return v.Tag == TagFakeCalls }

// FakeCalls returns the fake call count carried by a pseudo-record.
func (v VerboseRecord) FakeCalls() uint32 { return uint32(v.Retval) }

// Size implements Record.
func (v VerboseRecord) Size() int { return VerboseSize }

// Encode implements Record. Nothing is written if the record does not fit.
func (v VerboseRecord) Encode(w *Writer) error {
	if len(w.buf)-w.off < VerboseSize {
		return ErrShortBuffer
	}
	if v.Tag == TagEnd {
		return ErrZeroTag
	}
	_ = w.PutU64(v.Clock)
	_ = w.PutU32(uint32(v.Retval))
	_ = w.PutU64(uint64(v.Tag))
	return w.PutU64(v.Check)
}

// DecodeVerbose consumes one verbose record. An unwritten slot yields
// ErrNoData and is not consumed.
func DecodeVerbose(r *Reader) (VerboseRecord, error) {
	if r.Remaining() < VerboseSize {
		return VerboseRecord{}, ErrShortBuffer
	}
	start := r.off
	var v VerboseRecord
	v.Clock, _ = r.U64()
	ret, _ := r.U32()
	v.Retval = int32(ret)
	tag, _ := r.U64()
	v.Tag = Tag(tag)
	v.Check, _ = r.U64()
	if v.Tag == TagEnd {
		r.off = start
		return VerboseRecord{}, ErrNoData
	}
	return v, nil
}

// Compile-time interface checks.
var (
	_ Record = CompactRecord{}
	_ Record = VerboseRecord{}
)
