package logdb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/kolkov/syncreplay/internal/replay/record"
)

// Frame layout (little-endian):
//
//	offset 0  magic    "SRLG"
//	offset 4  version  uint16
//	offset 6  format   uint8
//	offset 7  reserved uint8
//	offset 8  crc32c   uint32 of the uncompressed data
//	offset 12 size     uint32 uncompressed length
//	offset 16 zstd payload
const (
	frameHeaderSize = 16
	frameVersion    = 1

	// maxSegmentSize bounds the uncompressed size a header may claim.
	maxSegmentSize = 1 << 30
)

var frameMagic = [4]byte{'S', 'R', 'L', 'G'}

var (
	// ErrCorrupt is returned when a stored frame fails validation.
	ErrCorrupt = errors.New("logdb: corrupt segment")

	crcTable = crc32.MakeTable(crc32.Castagnoli)
)

var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

func codec() (*zstd.Encoder, *zstd.Decoder, error) {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if codecErr != nil {
			return
		}
		decoder, codecErr = zstd.NewReader(nil)
	})
	return encoder, decoder, codecErr
}

type frameHeader struct {
	format record.Format
	crc    uint32
	size   int
}

// encodeFrame returns the framed, compressed form of data.
func encodeFrame(f record.Format, data []byte) ([]byte, error) {
	enc, _, err := codec()
	if err != nil {
		return nil, fmt.Errorf("logdb: zstd: %w", err)
	}
	out := make([]byte, frameHeaderSize, frameHeaderSize+len(data)/2)
	copy(out, frameMagic[:])
	binary.LittleEndian.PutUint16(out[4:], frameVersion)
	out[6] = byte(f)
	binary.LittleEndian.PutUint32(out[8:], crc32.Checksum(data, crcTable))
	binary.LittleEndian.PutUint32(out[12:], uint32(len(data)))
	if len(data) == 0 {
		return out, nil
	}
	return enc.EncodeAll(data, out), nil
}

func parseHeader(frame []byte) (frameHeader, error) {
	if len(frame) < frameHeaderSize {
		return frameHeader{}, fmt.Errorf("%w: %d byte frame", ErrCorrupt, len(frame))
	}
	if [4]byte(frame[:4]) != frameMagic {
		return frameHeader{}, fmt.Errorf("%w: bad magic %q", ErrCorrupt, frame[:4])
	}
	if v := binary.LittleEndian.Uint16(frame[4:]); v != frameVersion {
		return frameHeader{}, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}
	return frameHeader{
		format: record.Format(frame[6]),
		crc:    binary.LittleEndian.Uint32(frame[8:]),
		size:   int(binary.LittleEndian.Uint32(frame[12:])),
	}, nil
}

// decodeFrame validates frame and returns its format and data.
func decodeFrame(frame []byte) (record.Format, []byte, error) {
	hdr, err := parseHeader(frame)
	if err != nil {
		return 0, nil, err
	}
	if hdr.size > maxSegmentSize {
		return 0, nil, fmt.Errorf("%w: size %d too large", ErrCorrupt, hdr.size)
	}
	payload := frame[frameHeaderSize:]
	if hdr.size == 0 {
		if len(payload) != 0 || hdr.crc != 0 {
			return 0, nil, fmt.Errorf("%w: payload on empty segment", ErrCorrupt)
		}
		return hdr.format, []byte{}, nil
	}
	_, dec, err := codec()
	if err != nil {
		return 0, nil, fmt.Errorf("logdb: zstd: %w", err)
	}
	data, err := dec.DecodeAll(payload, make([]byte, 0, hdr.size))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(data) != hdr.size {
		return 0, nil, fmt.Errorf("%w: size %d, header says %d", ErrCorrupt, len(data), hdr.size)
	}
	if crc32.Checksum(data, crcTable) != hdr.crc {
		return 0, nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	return hdr.format, data, nil
}
