package record

import "fmt"

// Op identifies an intercepted synchronization entry point.
type Op uint32

// Intercepted operations. The zero value is reserved so that a zero event
// tag can mark the end of available data.
const (
	OpNone Op = iota
	OpFakeCalls

	OpMutexLock
	OpMutexTryLock
	OpMutexUnlock

	OpCondSignal
	OpCondBroadcast
	OpCondWait
	OpCondTimedWait
	OpCondDestroy

	OpRWLockRLock
	OpRWLockLock
	OpRWLockTimedRLock
	OpRWLockTimedLock
	OpRWLockTryRLock
	OpRWLockTryLock
	OpRWLockUnlock

	OpBarrierWait
	OpBarrierDestroy

	OpSpinLock
	OpSpinTryLock
	OpSpinUnlock

	OpSemPost
	OpSemWait
	OpSemTryWait
	OpSemTimedWait

	OpOnce

	OpLowLevelLock
	OpLowLevelUnlock
	OpWaitThread
	OpTimedWaitThread

	OpLibcLock
	OpLibcTryLock
	OpLibcUnlock

	OpAddAndFetch
	OpSubAndFetch
	OpFetchAndAdd
	OpFetchAndSub
	OpLockTestAndSet
	OpBoolCompareAndSwap
	OpValCompareAndSwap
	OpAtomicLoad

	opCount
)

var opNames = [...]string{
	OpNone:               "none",
	OpFakeCalls:          "fake_calls",
	OpMutexLock:          "mutex_lock",
	OpMutexTryLock:       "mutex_trylock",
	OpMutexUnlock:        "mutex_unlock",
	OpCondSignal:         "cond_signal",
	OpCondBroadcast:      "cond_broadcast",
	OpCondWait:           "cond_wait",
	OpCondTimedWait:      "cond_timedwait",
	OpCondDestroy:        "cond_destroy",
	OpRWLockRLock:        "rwlock_rdlock",
	OpRWLockLock:         "rwlock_wrlock",
	OpRWLockTimedRLock:   "rwlock_timedrdlock",
	OpRWLockTimedLock:    "rwlock_timedwrlock",
	OpRWLockTryRLock:     "rwlock_tryrdlock",
	OpRWLockTryLock:      "rwlock_trywrlock",
	OpRWLockUnlock:       "rwlock_unlock",
	OpBarrierWait:        "barrier_wait",
	OpBarrierDestroy:     "barrier_destroy",
	OpSpinLock:           "spin_lock",
	OpSpinTryLock:        "spin_trylock",
	OpSpinUnlock:         "spin_unlock",
	OpSemPost:            "sem_post",
	OpSemWait:            "sem_wait",
	OpSemTryWait:         "sem_trywait",
	OpSemTimedWait:       "sem_timedwait",
	OpOnce:               "once",
	OpLowLevelLock:       "lll_lock",
	OpLowLevelUnlock:     "lll_unlock",
	OpWaitThread:         "lll_wait_tid",
	OpTimedWaitThread:    "lll_timedwait_tid",
	OpLibcLock:           "libc_lock",
	OpLibcTryLock:        "libc_trylock",
	OpLibcUnlock:         "libc_unlock",
	OpAddAndFetch:        "sync_add_and_fetch",
	OpSubAndFetch:        "sync_sub_and_fetch",
	OpFetchAndAdd:        "sync_fetch_and_add",
	OpFetchAndSub:        "sync_fetch_and_sub",
	OpLockTestAndSet:     "sync_lock_test_and_set",
	OpBoolCompareAndSwap: "sync_bool_compare_and_swap",
	OpValCompareAndSwap:  "sync_val_compare_and_swap",
	OpAtomicLoad:         "sync_load",
}

// String returns the operation name.
func (o Op) String() string {
	if o < opCount {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", uint32(o))
}

// Enter returns the event tag logged before the underlying call.
func (o Op) Enter() Tag { return Tag(o) << 1 }

// Exit returns the event tag logged after the underlying call.
func (o Op) Exit() Tag { return Tag(o)<<1 | 1 }

// Tag is the event tag stored in verbose records and reported in
// mismatches: an Op plus an enter/exit bit.
type Tag uint64

// TagEnd is the tag of an unwritten verbose slot.
const TagEnd Tag = 0

// TagFakeCalls marks a verbose pseudo-record whose return value field holds
// a pending fake call count.
var TagFakeCalls = OpFakeCalls.Enter()

// Op returns the operation the tag belongs to.
func (t Tag) Op() Op { return Op(t >> 1) }

// IsExit reports whether the tag marks the exit side of an operation.
func (t Tag) IsExit() bool { return t&1 == 1 }

// String formats the tag as "op/enter" or "op/exit".
func (t Tag) String() string {
	if t == TagEnd {
		return "end"
	}
	if t == TagFakeCalls {
		return OpFakeCalls.String()
	}
	if t.IsExit() {
		return t.Op().String() + "/exit"
	}
	return t.Op().String() + "/enter"
}
