package thread

import (
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"
)

// Registry maps goroutine ids to Threads.
//
// Thread Safety: All methods are safe for concurrent calls.
type Registry struct {
	// threads maps goroutine id (int64) to *Thread.
	//
	// Most accesses are Current() lookups by an already bound goroutine;
	// writes happen once per goroutine, which suits sync.Map.
	threads sync.Map

	adopted atomic.Uint64
	live    atomic.Int64
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Current returns the Thread bound to the calling goroutine.
func (r *Registry) Current() (*Thread, bool) {
	v, ok := r.threads.Load(goid.Get())
	if !ok {
		return nil, false
	}
	return v.(*Thread), true
}

// Bind binds t to the calling goroutine and sets t.GID.
func (r *Registry) Bind(t *Thread) {
	t.GID = goid.Get()
	if _, loaded := r.threads.Swap(t.GID, t); !loaded {
		r.live.Add(1)
	}
}

// Release unbinds the thread of goroutine gid and returns it.
func (r *Registry) Release(gid int64) (*Thread, bool) {
	v, ok := r.threads.LoadAndDelete(gid)
	if !ok {
		return nil, false
	}
	r.live.Add(-1)
	return v.(*Thread), true
}

// AdoptedID returns the id for the next adopted goroutine.
func (r *Registry) AdoptedID() string {
	return "adopted-" + strconv.FormatUint(r.adopted.Add(1), 10)
}

// Len returns the number of bound threads.
func (r *Registry) Len() int {
	return int(r.live.Load())
}

// Range calls fn for every bound thread until fn returns false.
func (r *Registry) Range(fn func(*Thread) bool) {
	r.threads.Range(func(_, v any) bool {
		return fn(v.(*Thread))
	})
}

// Sweep releases the threads of goroutines that no longer exist and calls
// reclaim for each of them. It returns the number of threads swept.
//
// Algorithm:
//  1. Collect live goroutine ids from runtime.Stack(all=true)
//  2. Release every bound thread whose goroutine is not live
//
// Sweep stops the world while taking the stack dump, so it is meant for
// occasional use.
func (r *Registry) Sweep(reclaim func(*Thread)) int {
	live := make(map[int64]bool)
	for _, gid := range liveGoroutineIDs() {
		live[gid] = true
	}

	n := 0
	r.threads.Range(func(k, _ any) bool {
		gid := k.(int64)
		if live[gid] {
			return true
		}
		if t, ok := r.Release(gid); ok {
			n++
			if reclaim != nil {
				reclaim(t)
			}
		}
		return true
	})
	return n
}

// liveGoroutineIDs returns the ids of all goroutines, growing the dump
// buffer until the whole dump fits.
func liveGoroutineIDs() []int64 {
	buf := make([]byte, 64<<10)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return parseAllGIDs(buf[:n])
		}
		buf = make([]byte, 2*len(buf))
	}
}

// parseAllGIDs extracts goroutine ids from runtime.Stack(all=true) output.
//
// Input format (example):
//
//	goroutine 1 [running]:
//	main.main()
//	    /path/to/main.go:10 +0x20
//
//	goroutine 5 [chan receive]:
//	main.worker()
//	    /path/to/main.go:20 +0x40
//
// We extract: [1, 5].
func parseAllGIDs(buf []byte) []int64 {
	var gids []int64
	for len(buf) > 0 {
		end := 0
		for end < len(buf) && buf[end] != '\n' {
			end++
		}
		if gid := parseGID(buf[:end]); gid != 0 {
			gids = append(gids, gid)
		}
		if end == len(buf) {
			break
		}
		buf = buf[end+1:]
	}
	return gids
}

// parseGID parses the id from a "goroutine N [state]:" line. It returns 0
// for any other line.
func parseGID(line []byte) int64 {
	const prefix = "goroutine "
	if len(line) < len(prefix) || string(line[:len(prefix)]) != prefix {
		return 0
	}
	line = line[len(prefix):]

	end := 0
	for end < len(line) && line[end] >= '0' && line[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	gid, err := strconv.ParseInt(string(line[:end]), 10, 64)
	if err != nil {
		return 0
	}
	return gid
}
