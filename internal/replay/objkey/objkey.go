// Package objkey assigns identity keys to synchronization objects.
//
// A key names an object by who created it rather than where it lives: it is
// the FNV-1a hash of the creating thread's id and that thread's object
// counter. Thread ids and per-thread creation order are the same in every
// run of a program, so the key an object gets while recording is the one it
// gets again while replaying, even though its address differs.
//
// Objects created through a wrapper constructor are keyed at construction.
// Objects only ever seen by address, such as raw atomic words, are keyed per
// thread in first-touch order through a Table. That order is stable as long
// as addresses are not reused for different objects during the run.
package objkey

import (
	"encoding/binary"
	"hash/fnv"
	"sync"
)

// Mint returns the key of the n-th object created by thread id.
func Mint(id string, n uint64) uint64 {
	h := fnv.New64a()
	h.Write([]byte(id))
	var b [9]byte
	b[0] = '#'
	binary.LittleEndian.PutUint64(b[1:], n)
	h.Write(b[:])
	return h.Sum64()
}

// Table maps object addresses to their keys.
//
// Thread Safety: All methods are safe for concurrent calls.
//
// Example:
//
//	keys := objkey.New()
//	keys.Register(uintptr(unsafe.Pointer(mu)), objkey.Mint("0", 1))
//	k := keys.Key(uintptr(unsafe.Pointer(mu)), nil) // same key
type Table struct {
	// keys maps an address to its uint64 key. Entries are written once per
	// object and read on every operation, the access pattern sync.Map is
	// built for.
	keys sync.Map
}

// New creates an empty Table.
func New() *Table {
	return &Table{}
}

// Register stores key for addr, replacing any previous key. Constructors
// call it so the key is fixed before the object is shared.
func (t *Table) Register(addr uintptr, key uint64) {
	t.keys.Store(addr, key)
}

// Key returns the key of addr. An unknown address is keyed with mint();
// if several goroutines race, all of them get the key that was stored
// first. A nil mint keys unknown addresses by the address itself.
func (t *Table) Key(addr uintptr, mint func() uint64) uint64 {
	if v, ok := t.keys.Load(addr); ok {
		return v.(uint64)
	}
	k := uint64(addr)
	if mint != nil {
		k = mint()
	}
	v, _ := t.keys.LoadOrStore(addr, k)
	return v.(uint64)
}

// Forget drops the key of addr. Destroy operations call it so a later
// object at the same address gets a key of its own.
func (t *Table) Forget(addr uintptr) {
	t.keys.Delete(addr)
}

// Len returns the number of keyed addresses.
func (t *Table) Len() int {
	n := 0
	t.keys.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Reset drops every key.
//
// Thread Safety: NOT safe for concurrent access. The caller must ensure no
// other goroutine is using the table.
func (t *Table) Reset() {
	t.keys = sync.Map{}
}
