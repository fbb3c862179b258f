package arena

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/kolkov/syncreplay/internal/replay/record"
)

var (
	// ErrFreed is returned when an arena is used after Free.
	ErrFreed = errors.New("arena: use after free")

	// ErrTooLarge is returned by Load when the data does not fit.
	ErrTooLarge = errors.New("arena: data larger than arena")

	// ErrBadSize is returned by Allocate for a non-positive log size.
	ErrBadSize = errors.New("arena: log size must be positive")
)

// DefaultLogSize is the usable log size when none is configured.
const DefaultLogSize = 1 << 20

// Arena is one thread's log region.
type Arena struct {
	mem    []byte
	cursor int
	end    int
	slack  int
	format record.Format
	owner  string

	// Encoder/decoder state carried between calls.
	expected uint64
	run      uint32

	// Cells shared with the collaborator.
	ignore atomic.Bool
	fake   atomic.Uint32
}

// Allocate reserves an arena with logSize usable bytes for owner.
//
// The region is logSize plus MaxRecordSize(f) bytes of slack, rounded up to
// the host page size, and starts zeroed.
func Allocate(owner string, logSize int, f record.Format) (*Arena, error) {
	if logSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrBadSize, logSize)
	}

	slack := record.MaxRecordSize(f)
	size := roundUp(logSize+slack, os.Getpagesize())

	mem, err := mapRegion(size)
	if err != nil {
		return nil, fmt.Errorf("arena: allocate %d bytes for %s: %w", size, owner, err)
	}

	return &Arena{
		mem:    mem,
		end:    logSize,
		slack:  slack,
		format: f,
		owner:  owner,
	}, nil
}

func roundUp(n, page int) int {
	if r := n % page; r != 0 {
		n += page - r
	}
	return n
}

// Owner returns the id of the thread the arena belongs to.
func (a *Arena) Owner() string { return a.owner }

// Format returns the record encoding used in this arena.
func (a *Arena) Format() record.Format { return a.format }

// Size returns the mapped size in bytes.
func (a *Arena) Size() int { return len(a.mem) }

// End returns the offset one past the last usable slot.
func (a *Arena) End() int { return a.end }

// Slack returns the number of overflow bytes reserved past End.
func (a *Arena) Slack() int { return a.slack }

// Cursor returns the offset of the next slot.
func (a *Arena) Cursor() int { return a.cursor }

// Tail returns the writable (or readable) bytes from the cursor through the
// slack. The slice aliases the arena.
func (a *Arena) Tail() []byte {
	return a.mem[a.cursor : a.end+a.slack]
}

// Advance moves the cursor forward by n bytes.
func (a *Arena) Advance(n int) {
	if n < 0 || a.cursor+n > a.end+a.slack {
		panic(fmt.Sprintf("arena: advance %d from %d past %d", n, a.cursor, a.end+a.slack))
	}
	a.cursor += n
}

// Full reports whether the cursor has reached End.
func (a *Arena) Full() bool { return a.cursor >= a.end }

// Rewind moves the cursor back to the start of the arena.
func (a *Arena) Rewind() { a.cursor = 0 }

// Snapshot returns a copy of the bytes written since the last rewind.
func (a *Arena) Snapshot() []byte {
	out := make([]byte, a.cursor)
	copy(out, a.mem[:a.cursor])
	return out
}

// Clear zeroes the whole region. The cursor is unchanged.
func (a *Arena) Clear() {
	clear(a.mem)
}

// Load replaces the arena contents with p, zeroes the remainder and
// rewinds. Used by the collaborator when feeding a replaying thread.
func (a *Arena) Load(p []byte) error {
	if a.mem == nil {
		return ErrFreed
	}
	if len(p) > a.end+a.slack {
		return fmt.Errorf("%w: %d > %d", ErrTooLarge, len(p), a.end+a.slack)
	}
	n := copy(a.mem, p)
	clear(a.mem[n:])
	a.cursor = 0
	return nil
}

// ExpectedClock returns the clock value expected at the next event.
func (a *Arena) ExpectedClock() uint64 { return a.expected }

// SetExpectedClock stores the clock value expected at the next event.
func (a *Arena) SetExpectedClock(v uint64) { a.expected = v }

// Run returns the open run length.
func (a *Arena) Run() uint32 { return a.run }

// SetRun stores the open run length.
func (a *Arena) SetRun(n uint32) { a.run = n }

// Ignored reports whether the owner is inside a logged operation.
func (a *Arena) Ignored() bool { return a.ignore.Load() }

// SetIgnore sets the ignore flag and returns its previous value.
func (a *Arena) SetIgnore(v bool) bool { return a.ignore.Swap(v) }

// AddFakeCall records one signal delivered while the owner was ignoring.
func (a *Arena) AddFakeCall() { a.fake.Add(1) }

// PendingFakeCalls returns the number of fake calls not yet logged.
func (a *Arena) PendingFakeCalls() uint32 { return a.fake.Load() }

// TakeFakeCalls returns the pending fake call count and resets it to zero.
func (a *Arena) TakeFakeCalls() uint32 { return a.fake.Swap(0) }

// ResetCounters rewinds the arena and clears every header field.
func (a *Arena) ResetCounters() {
	a.cursor = 0
	a.expected = 0
	a.run = 0
	a.ignore.Store(false)
	a.fake.Store(0)
}

// Free releases the region. Calling Free more than once is a no-op.
func (a *Arena) Free() error {
	if a.mem == nil {
		return nil
	}
	mem := a.mem
	a.mem = nil
	a.cursor, a.end, a.slack = 0, 0, 0
	if err := unmapRegion(mem); err != nil {
		return fmt.Errorf("arena: free %s: %w", a.owner, err)
	}
	return nil
}

// Freed reports whether Free has been called.
func (a *Arena) Freed() bool { return a.mem == nil }
