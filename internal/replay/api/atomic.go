// Copyright 2025 The syncreplay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"sync/atomic"
	"unsafe"

	"github.com/kolkov/syncreplay/internal/replay/mode"
	"github.com/kolkov/syncreplay/internal/replay/record"
)

// Integer is the set of word types the atomic builtins operate on.
type Integer interface {
	~int32 | ~uint32 | ~int64 | ~uint64
}

// AddAndFetch adds d to *p and returns the new value.
func AddAndFetch[T Integer](rt *Runtime, p *T, d T) T {
	return atomicOp(rt, record.OpAddAndFetch, p, func() T { return add(p, d) })
}

// SubAndFetch subtracts d from *p and returns the new value.
func SubAndFetch[T Integer](rt *Runtime, p *T, d T) T {
	return atomicOp(rt, record.OpSubAndFetch, p, func() T { return add(p, -d) })
}

// FetchAndAdd adds d to *p and returns the old value.
func FetchAndAdd[T Integer](rt *Runtime, p *T, d T) T {
	return atomicOp(rt, record.OpFetchAndAdd, p, func() T { return add(p, d) - d })
}

// FetchAndSub subtracts d from *p and returns the old value.
func FetchAndSub[T Integer](rt *Runtime, p *T, d T) T {
	return atomicOp(rt, record.OpFetchAndSub, p, func() T { return add(p, -d) + d })
}

// LockTestAndSet stores v into *p and returns the old value.
func LockTestAndSet[T Integer](rt *Runtime, p *T, v T) T {
	return atomicOp(rt, record.OpLockTestAndSet, p, func() T { return swap(p, v) })
}

// BoolCompareAndSwap stores v into *p if it holds old, and reports
// whether it did.
func BoolCompareAndSwap[T Integer](rt *Runtime, p *T, old, v T) bool {
	return atomicOp(rt, record.OpBoolCompareAndSwap, p, func() bool { return cas(p, old, v) })
}

// ValCompareAndSwap stores v into *p if it holds old. It returns the
// value *p held before the call.
func ValCompareAndSwap[T Integer](rt *Runtime, p *T, old, v T) T {
	return atomicOp(rt, record.OpValCompareAndSwap, p, func() T {
		for {
			cur := load(p)
			if cur != old {
				return cur
			}
			if cas(p, old, v) {
				return old
			}
		}
	})
}

// Load atomically loads *p.
func Load[T Integer](rt *Runtime, p *T) T {
	return atomicOp(rt, record.OpAtomicLoad, p, func() T { return load(p) })
}

// atomicOp orders one atomic builtin on *p. Recording serializes every
// builtin on the runtime's atomic lock so the log order is the order the
// operations took effect; replay performs the operation between its
// decoded ENTER and EXIT with logging suspended.
func atomicOp[T Integer, R any](rt *Runtime, op record.Op, p *T, fn func() R) R {
	t, m := rt.logging()
	switch m {
	case mode.Recording:
		key := t.AddressKey(uintptr(unsafe.Pointer(p)))
		rt.atomicMu.Lock()
		defer rt.atomicMu.Unlock()
		rt.record(t, 0, op.Enter(), key, true)
		v := fn()
		rt.record(t, 0, op.Exit(), key, false)
		return v
	case mode.Replaying:
		key := t.AddressKey(uintptr(unsafe.Pointer(p)))
		if _, ok := rt.replay(t, op.Enter(), key); !ok {
			return fn()
		}
		a := t.Arena()
		prev := a.SetIgnore(true)
		v := fn()
		a.SetIgnore(prev)
		rt.replay(t, op.Exit(), key)
		return v
	default:
		return fn()
	}
}

func add[T Integer](p *T, d T) T {
	if unsafe.Sizeof(*p) == 4 {
		return T(atomic.AddUint32((*uint32)(unsafe.Pointer(p)), uint32(d)))
	}
	return T(atomic.AddUint64((*uint64)(unsafe.Pointer(p)), uint64(d)))
}

func swap[T Integer](p *T, v T) T {
	if unsafe.Sizeof(*p) == 4 {
		return T(atomic.SwapUint32((*uint32)(unsafe.Pointer(p)), uint32(v)))
	}
	return T(atomic.SwapUint64((*uint64)(unsafe.Pointer(p)), uint64(v)))
}

func cas[T Integer](p *T, old, v T) bool {
	if unsafe.Sizeof(*p) == 4 {
		return atomic.CompareAndSwapUint32((*uint32)(unsafe.Pointer(p)), uint32(old), uint32(v))
	}
	return atomic.CompareAndSwapUint64((*uint64)(unsafe.Pointer(p)), uint64(old), uint64(v))
}

func load[T Integer](p *T) T {
	if unsafe.Sizeof(*p) == 4 {
		return T(atomic.LoadUint32((*uint32)(unsafe.Pointer(p))))
	}
	return T(atomic.LoadUint64((*uint64)(unsafe.Pointer(p))))
}
