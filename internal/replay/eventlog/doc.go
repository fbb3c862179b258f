// Package eventlog implements the per-thread event encoder and the replay
// driver.
//
// A Log binds one thread's arena to the shared logical clock and to the
// collaborator that blocks replaying threads and rotates full arenas.
//
// Recording (compact format):
//
//	new := clock.FetchAndIncrement()
//	skip := new - expected; expected = new + 1
//	boring (retval 0, no fake calls, skip 0)  -> run++, nothing written
//	otherwise                                  -> tag(run|flags) [skip] [retval] [fake], run = 0
//	ignore = isEnter
//
// Replaying (compact format):
//
//	run > 1                 -> run--, expected++, clock++, return 0
//	tag == 0                -> wait for more data, retry
//	fresh tag with run N>0  -> run = N, expected++, clock++, return 0
//	otherwise               -> consume record, sequence fake calls,
//	                           wait clock >= expected+skip,
//	                           expected = target+1, clock++, return retval
//
// The verbose format stores the absolute clock and the operation identity of
// every event, so replay can reject a call that is not the one recorded at
// this point of the thread's history.
//
// Thread Safety: a Log is owned by exactly one thread. Only the clock and
// the arena's ignore flag and fake call count are shared.
package eventlog
