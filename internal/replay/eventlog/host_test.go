package eventlog

import (
	"sync"

	"github.com/kolkov/syncreplay/internal/replay/arena"
	"github.com/kolkov/syncreplay/internal/replay/clock"
)

// testHost is an in-memory collaborator for one thread.
//
// While recording, NotifyLogFull keeps a copy of the arena contents. While
// replaying, NotifyLogFull and BlockUntilClock(clock.Exhausted) load the next
// queued segment.
type testHost struct {
	mu sync.Mutex

	clk *clock.Counter

	replaying bool
	segments  [][]byte // recorded, in order
	feed      [][]byte // still to be loaded while replaying

	notifies int
	signals  int
	blocks   []uint64

	// onBlock runs for every non-exhausted block. Single-threaded tests use
	// it to stand in for the threads that would advance the clock.
	onBlock func(target uint64)
}

func newRecordingHost(clk *clock.Counter) *testHost {
	return &testHost{clk: clk}
}

func newReplayHost(clk *clock.Counter, segments [][]byte) *testHost {
	feed := make([][]byte, len(segments))
	copy(feed, segments)
	return &testHost{clk: clk, replaying: true, feed: feed}
}

func (h *testHost) BlockUntilClock(target uint64) error {
	h.mu.Lock()
	h.blocks = append(h.blocks, target)
	onBlock := h.onBlock
	h.mu.Unlock()

	if target == clock.Exhausted {
		return ErrLogExhausted
	}
	if onBlock != nil {
		onBlock(target)
	}
	h.clk.WaitAtLeast(target)
	return nil
}

// exhaustedLoader wraps a testHost so that waiting for data loads the next
// queued segment into a.
type exhaustedLoader struct {
	*testHost
	a *arena.Arena
}

func (e *exhaustedLoader) BlockUntilClock(target uint64) error {
	if target != clock.Exhausted {
		return e.testHost.BlockUntilClock(target)
	}
	e.mu.Lock()
	e.blocks = append(e.blocks, target)
	if len(e.feed) == 0 {
		e.mu.Unlock()
		return ErrLogExhausted
	}
	next := e.feed[0]
	e.feed = e.feed[1:]
	e.mu.Unlock()
	return e.a.Load(next)
}

func (h *testHost) NotifyLogFull(a *arena.Arena) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notifies++

	if !h.replaying {
		if snap := a.Snapshot(); len(snap) > 0 {
			h.segments = append(h.segments, snap)
		}
		a.Clear()
		return nil
	}

	if len(h.feed) == 0 {
		return a.Load(nil)
	}
	next := h.feed[0]
	h.feed = h.feed[1:]
	return a.Load(next)
}

func (h *testHost) SequenceOneSignal() error {
	h.mu.Lock()
	h.signals++
	h.mu.Unlock()
	return nil
}

func (h *testHost) nonExhaustedBlocks() []uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []uint64
	for _, b := range h.blocks {
		if b != clock.Exhausted {
			out = append(out, b)
		}
	}
	return out
}
