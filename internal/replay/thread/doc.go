// Package thread tracks the goroutines that take part in recording or
// replay.
//
// Each participating goroutine owns a Thread: its deterministic id, its
// event log and the counters used to mint ids for the goroutines and
// objects it creates. Threads are found by goroutine id through a Registry.
//
// Thread ids are stable across runs:
//   - the goroutine that initializes the runtime is "0"
//   - the n-th goroutine spawned by thread P is "P.n", n starting at 1
//   - a goroutine that reaches a wrapper without having been spawned by the
//     runtime is adopted as "adopted-N", in order of first contact, which
//     is not guaranteed to be stable
//
// Goroutine ids come from github.com/petermattis/goid. Threads whose
// goroutine has exited without releasing them are reclaimed by Sweep.
package thread
