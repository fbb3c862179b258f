// Package host defines the privileged collaborator the runtime relies on
// and provides Local, an in-process implementation of it.
//
// The collaborator owns everything outside a thread's own arena: it reports
// the process mode, hands out the shared clock page, is told about every
// arena, persists full arenas while recording and refills them while
// replaying, suspends replaying threads until the clock reaches their next
// event, and re-delivers signals at the points the log sequences them.
//
// Local keeps the durable copy of every arena in a logdb.Store, one segment
// per fill. Replay reads the same segments back in sequence order.
//
// Thread Safety: Local is safe for concurrent use. RegisterArena and
// BlockUntilClock identify the calling thread by its goroutine, so an arena
// must be registered from the goroutine that owns it.
package host
