package thread

import (
	"strconv"
	"sync/atomic"

	"github.com/kolkov/syncreplay/internal/replay/arena"
	"github.com/kolkov/syncreplay/internal/replay/eventlog"
	"github.com/kolkov/syncreplay/internal/replay/objkey"
)

// RootID is the id of the initial thread.
const RootID = "0"

// Thread is the per-goroutine replay state.
//
// Layout:
//   - ID: deterministic thread id, also the arena owner
//   - GID: goroutine the thread is bound to (0 until Bind)
//   - Log: the thread's encoder and replay driver
//
// Thread Safety: ID and Log are immutable after New. The counters are
// atomic, but in practice only the owning goroutine mints ids.
type Thread struct {
	ID  string
	GID int64
	Log *eventlog.Log

	children atomic.Uint32
	objects  atomic.Uint64
	addrs    atomic.Uint64
	addrKeys *objkey.Table

	// detached is set when the thread stops logging, after its recorded
	// history ran out during replay.
	detached atomic.Bool
}

// New creates a Thread with the given id and log.
func New(id string, lg *eventlog.Log) *Thread {
	return &Thread{ID: id, Log: lg, addrKeys: objkey.New()}
}

// Arena returns the thread's arena.
func (t *Thread) Arena() *arena.Arena {
	return t.Log.Arena()
}

// ChildID returns the id for the next goroutine this thread spawns.
//
// Example:
//
//	root := New("0", lg)
//	root.ChildID() // "0.1"
//	root.ChildID() // "0.2"
func (t *Thread) ChildID() string {
	n := t.children.Add(1)
	return t.ID + "." + strconv.FormatUint(uint64(n), 10)
}

// ObjectKey mints the identity key for the next object this thread creates.
func (t *Thread) ObjectKey() uint64 {
	return objkey.Mint(t.ID, t.objects.Add(1))
}

// AddressKey returns the key this thread uses for the object at addr. An
// address gets the next key from the thread's own first-touch order, which
// is as stable as the thread's program order. The counter is separate from
// ObjectKey's so first touches never shift the keys of constructed objects.
func (t *Thread) AddressKey(addr uintptr) uint64 {
	return t.addrKeys.Key(addr, func() uint64 {
		return objkey.Mint(t.ID+"@", t.addrs.Add(1))
	})
}

// Detached reports whether Detach has been called.
func (t *Thread) Detached() bool { return t.detached.Load() }

// Detach stops logging for the thread. It reports whether this call was
// the first.
func (t *Thread) Detach() bool { return !t.detached.Swap(true) }
