package host

import (
	"github.com/kolkov/syncreplay/internal/replay/arena"
	"github.com/kolkov/syncreplay/internal/replay/clock"
	"github.com/kolkov/syncreplay/internal/replay/mode"
	"github.com/kolkov/syncreplay/internal/replay/record"
)

// RecordFunc logs one event on the calling thread's log.
type RecordFunc func(retval int32, tag record.Tag, key uint64, isEnter bool) error

// ReplayFunc replays one event on the calling thread's log.
type ReplayFunc func(tag record.Tag, key uint64) (int32, error)

// Collaborator is the set of calls the runtime makes into the privileged
// party that owns log persistence and scheduling.
type Collaborator interface {
	// QueryMode reports the mode the process runs in.
	QueryMode() (mode.Mode, error)

	// GetOrCreateClockPage returns the shared clock. exists is false when
	// the clock was created by this call, in which case the caller must
	// follow up with InitProcess.
	GetOrCreateClockPage() (exists bool, clk clock.Clock, err error)

	// RegisterArena tells the collaborator about a freshly allocated
	// arena owned by the calling thread.
	RegisterArena(a *arena.Arena) error

	// InitProcess hands the collaborator the process-wide mode cell, the
	// clock and the entry points it may use to log its own events.
	InitProcess(st *mode.State, clk clock.Clock, rec RecordFunc, rep ReplayFunc) error

	// BlockUntilClock suspends the calling thread until the clock reaches
	// target. With clock.Exhausted it waits for more log data instead.
	BlockUntilClock(target uint64) error

	// NotifyLogFull is called with a full arena before it is rewound.
	NotifyLogFull(a *arena.Arena) error

	// SequenceOneSignal re-delivers one signal at the current point of
	// the replay.
	SequenceOneSignal() error
}

// Releaser is implemented by collaborators that track arenas and want to
// know when a thread is done with one.
type Releaser interface {
	ReleaseArena(a *arena.Arena) error
}
