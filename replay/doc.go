// Package replay records the order of synchronization events in a
// multi-threaded Go program and replays that order in a later run.
//
// A program creates its locks, condition variables, barriers, semaphores
// and once values through this package and starts goroutines with [Go].
// While recording, every operation on them is logged per goroutine together
// with a global logical clock. While replaying, each operation waits until
// the clock reaches the value it was recorded at and returns the recorded
// result, so the program observes the same interleaving of synchronization
// as the recorded run.
//
// # Quick Start
//
//	package main
//
//	import "github.com/kolkov/syncreplay/replay"
//
//	func main() {
//		if err := replay.Init(); err != nil {
//			panic(err)
//		}
//		defer replay.Fini()
//
//		mu := replay.NewMutex()
//		var hits int64
//		h := replay.Go(func() {
//			mu.Lock()
//			replay.AddAndFetch(&hits, 1)
//			mu.Unlock()
//		})
//		replay.Wait(h)
//	}
//
// Record a run, then replay it:
//
//	$ SYNCREPLAY_MODE=record SYNCREPLAY_STORE_DIR=/tmp/rec ./myprogram
//	$ synclog recordings --store-dir /tmp/rec
//	$ SYNCREPLAY_MODE=replay SYNCREPLAY_RECORDING=<id> SYNCREPLAY_STORE_DIR=/tmp/rec ./myprogram
//
// # Modes
//
//   - off: every primitive behaves like its sync counterpart; nothing is
//     logged. This is the mode before Init.
//   - record: operations are logged to the store named by the configuration.
//   - replay: operations follow the log of the recording named by
//     SYNCREPLAY_RECORDING. The underlying primitive is not used, except
//     for once bodies, atomic arithmetic and goroutine joins.
//
// # Threads
//
// The goroutine calling Init is thread "0". A goroutine started with [Go]
// from thread P is thread "P.1", "P.2", ... in start order, which is how
// its log is matched on replay. Goroutines started with the go statement
// are adopted on their first logged call under an id that is not stable
// across runs; start logged goroutines with [Go].
//
// # Formats
//
// The compact format stores a run-length encoded stream of return codes and
// clock gaps. The verbose format stores every event with its tag and object
// key, so that a replayed call that differs from the recorded one is
// reported:
//
//	==================
//	REPLAY MISMATCH in thread 0.1
//	Log record at clock 12: mutex_lock/enter check 0x1f
//	Replayed call:          mutex_unlock/enter check 0x1f
//	  main.worker()
//	      /path/to/main.go:45 +0x3b
//	==================
//
// The process then exits with status 3.
//
// # Configuration
//
// See [Init] for the environment variables. A YAML file named by
// SYNCREPLAY_CONFIG may set the same fields:
//
//	mode: record
//	format: verbose
//	log_size: 65536
//	store: sqlite
//	store_dir: /var/tmp/syncreplay
//	fail_on_exhausted: true
package replay
