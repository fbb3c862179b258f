package logdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/kolkov/syncreplay/internal/replay/record"
)

var (
	// ErrNotFound is returned when a requested segment does not exist.
	ErrNotFound = errors.New("logdb: segment not found")

	// ErrBadName is returned for recording or thread ids that cannot be
	// stored.
	ErrBadName = errors.New("logdb: invalid name")
)

// Segment is the content of one arena between two rewinds.
type Segment struct {
	Recording string
	Thread    string
	Seq       int
	Format    record.Format
	Data      []byte
}

// SegmentInfo describes a stored segment without its data.
type SegmentInfo struct {
	Thread string
	Seq    int
	Format record.Format
	Size   int
}

// Store persists segments.
type Store interface {
	// PutSegment stores seg, replacing any segment with the same key.
	PutSegment(ctx context.Context, seg Segment) error

	// Segment loads one segment.
	Segment(ctx context.Context, recording, thread string, seq int) (Segment, error)

	// Segments lists the segments of a thread in sequence order.
	Segments(ctx context.Context, recording, thread string) ([]SegmentInfo, error)

	// Threads lists the thread ids of a recording in lexical order.
	Threads(ctx context.Context, recording string) ([]string, error)

	// Recordings lists the stored recording ids in lexical order, which
	// for UUIDv7 ids is creation order.
	Recordings(ctx context.Context) ([]string, error)

	Close() error
}

// NewRecordingID returns a fresh, time-ordered recording id.
func NewRecordingID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// validName rejects ids that would escape a directory or break a key.
func validName(kind, s string) error {
	if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`+"\x00") {
		return fmt.Errorf("%w: %s %q", ErrBadName, kind, s)
	}
	return nil
}

func validKey(recording, thread string) error {
	if err := validName("recording", recording); err != nil {
		return err
	}
	return validName("thread", thread)
}

// Open opens a store by kind: "file" (dir is the root directory), "sqlite"
// (dir holds segments.db) or "memory".
func Open(kind, dir string) (Store, error) {
	switch kind {
	case "", "file":
		return OpenFileStore(dir)
	case "sqlite", "sql":
		if dir == "" {
			return nil, fmt.Errorf("logdb: sqlite store needs a directory")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("logdb: create %s: %w", dir, err)
		}
		return OpenSQLStore(SQLitePath(dir))
	case "memory", "mem":
		return NewMemStore(), nil
	default:
		return nil, fmt.Errorf("logdb: unknown store kind %q", kind)
	}
}
