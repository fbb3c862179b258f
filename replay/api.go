// Package replay provides the public API for deterministic record/replay of
// synchronization events.
//
// See doc.go for detailed documentation and examples.
package replay

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kolkov/syncreplay/internal/replay/api"
	"github.com/kolkov/syncreplay/internal/replay/config"
	"github.com/kolkov/syncreplay/internal/replay/diag"
	"github.com/kolkov/syncreplay/internal/replay/host"
	"github.com/kolkov/syncreplay/internal/replay/logdb"
	"github.com/kolkov/syncreplay/internal/replay/mode"
	"github.com/kolkov/syncreplay/internal/replay/stats"
)

// EnvConfig names the environment variable holding the path of a YAML
// configuration file read by Init.
const EnvConfig = "SYNCREPLAY_CONFIG"

// Config is the runtime configuration. See Init for how it is loaded.
type Config = config.Config

// Wrapped primitives. Values must be created through the New functions of
// this package.
type (
	Mutex        = api.Mutex
	Cond         = api.Cond
	RWLock       = api.RWLock
	Barrier      = api.Barrier
	Spinlock     = api.Spinlock
	Semaphore    = api.Semaphore
	Once         = api.Once
	LowLevelLock = api.LowLevelLock
	Handle       = api.Handle
	Integer      = api.Integer
	TryLocker    = api.TryLocker
	LockFactory  = api.LockFactory
	LockConsumer = api.LockConsumer
)

// ErrBusy is returned when an object is destroyed while in use.
var ErrBusy = api.ErrBusy

var (
	mu     sync.Mutex
	global *api.Runtime
	local  *host.Local

	offOnce sync.Once
	off     *api.Runtime
)

type options struct {
	lg  *zap.Logger
	reg prometheus.Registerer
}

// Option configures Init.
type Option func(*options)

// WithLogger sets the logger. By default one is built from Config.Debug.
func WithLogger(lg *zap.Logger) Option {
	return func(o *options) { o.lg = lg }
}

// WithRegisterer registers the runtime's counters on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.reg = reg }
}

// Init initializes the runtime for the calling goroutine, which becomes
// thread "0".
//
// The configuration is Default overlaid with the YAML file named by
// SYNCREPLAY_CONFIG and then the SYNCREPLAY_* variables:
//
//	SYNCREPLAY_MODE=record SYNCREPLAY_STORE_DIR=/tmp/rec ./myprogram
//	SYNCREPLAY_MODE=replay SYNCREPLAY_RECORDING=<id> SYNCREPLAY_STORE_DIR=/tmp/rec ./myprogram
//
// Init is a no-op once the runtime is initialized; call Fini first to
// initialize again.
func Init(opts ...Option) error {
	cfg, err := config.Load(os.Getenv(EnvConfig))
	if err != nil {
		return err
	}
	return InitWith(cfg, opts...)
}

// InitWith is Init with an explicit configuration.
func InitWith(cfg Config, opts ...Option) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	mu.Lock()
	defer mu.Unlock()
	if global != nil {
		return nil
	}

	lg := o.lg
	if lg == nil {
		var err error
		if lg, err = diag.NewLogger(cfg.Debug); err != nil {
			return fmt.Errorf("replay: logger: %w", err)
		}
	}
	var m *stats.Metrics
	if o.reg != nil {
		var err error
		if m, err = stats.New(o.reg); err != nil {
			return fmt.Errorf("replay: metrics: %w", err)
		}
	}

	var (
		h   *host.Local
		err error
	)
	if cfg.ParsedMode() == mode.Off {
		// Nothing is stored when unlogged.
		h, err = host.NewLocal(cfg, logdb.NewMemStore(), host.WithLogger(lg))
	} else {
		h, err = host.OpenLocal(cfg, host.WithLogger(lg))
	}
	if err != nil {
		return err
	}

	rt := api.New(h, cfg, api.WithLogger(lg), api.WithMetrics(m))
	if err := rt.Init(); err != nil {
		h.Close()
		return err
	}
	global, local = rt, h
	return nil
}

// Fini persists every thread's remaining log and releases the runtime.
// Goroutines must have stopped using wrapped primitives.
func Fini() error {
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		return nil
	}
	err := errors.Join(global.Fini(), local.Close())
	global, local = nil, nil
	return err
}

// runtime returns the initialized runtime, or an unlogged one before Init.
func runtime() *api.Runtime {
	mu.Lock()
	rt := global
	mu.Unlock()
	if rt != nil {
		return rt
	}
	offOnce.Do(func() {
		cfg := config.Default()
		cfg.StoreKind = "memory"
		h, err := host.NewLocal(cfg, logdb.NewMemStore())
		if err != nil {
			panic(err)
		}
		off = api.New(h, cfg)
		_ = off.Init()
	})
	return off
}

// Mode returns the process mode: "off", "record" or "replay".
func Mode() string {
	m := runtime().Mode()
	if m == mode.ReplayAfterFork {
		m = mode.Replaying
	}
	return m.String()
}

// Recording returns the id the current run is recorded under or replayed
// from, or "" before Init.
func Recording() string {
	mu.Lock()
	defer mu.Unlock()
	if local == nil {
		return ""
	}
	return local.Recording()
}

// AfterFork must be called in the child after a fork.
func AfterFork() { runtime().AfterFork() }

// NewMutex returns a logged mutex.
func NewMutex() *Mutex { return runtime().NewMutex() }

// NewCond returns a logged condition variable over l.
func NewCond(l sync.Locker) *Cond { return runtime().NewCond(l) }

// NewRWLock returns a logged reader/writer lock.
func NewRWLock() *RWLock { return runtime().NewRWLock() }

// NewBarrier returns a logged barrier for parties goroutines.
func NewBarrier(parties int) *Barrier { return runtime().NewBarrier(parties) }

// NewSpinlock returns a logged spin lock.
func NewSpinlock() *Spinlock { return runtime().NewSpinlock() }

// NewSemaphore returns a logged semaphore with initial count n.
func NewSemaphore(n int) *Semaphore { return runtime().NewSemaphore(n) }

// NewOnce returns a logged Once.
func NewOnce() *Once { return runtime().NewOnce() }

// NewLowLevelLock returns a logged word lock.
func NewLowLevelLock() *LowLevelLock { return runtime().NewLowLevelLock() }

// NewLock returns a logged lock from the runtime's lock factory.
func NewLock() TryLocker { return runtime().NewLock() }

// AddLockConsumer hands the runtime's lock factory to c.
func AddLockConsumer(c LockConsumer) { runtime().AddLockConsumer(c) }

// Go runs fn in a new goroutine whose log is found again on replay.
//
// Example:
//
//	h := replay.Go(worker)
//	replay.Wait(h)
func Go(fn func()) *Handle { return runtime().Spawn(fn) }

// Wait blocks until the goroutine behind h has finished.
func Wait(h *Handle) { runtime().WaitThread(h) }

// TimedWait is Wait bounded by d. It reports false if the goroutine was
// still running when d passed.
func TimedWait(h *Handle, d time.Duration) bool { return runtime().TimedWaitThread(h, d) }

// AddAndFetch adds d to *p and returns the new value.
func AddAndFetch[T Integer](p *T, d T) T { return api.AddAndFetch(runtime(), p, d) }

// SubAndFetch subtracts d from *p and returns the new value.
func SubAndFetch[T Integer](p *T, d T) T { return api.SubAndFetch(runtime(), p, d) }

// FetchAndAdd adds d to *p and returns the old value.
func FetchAndAdd[T Integer](p *T, d T) T { return api.FetchAndAdd(runtime(), p, d) }

// FetchAndSub subtracts d from *p and returns the old value.
func FetchAndSub[T Integer](p *T, d T) T { return api.FetchAndSub(runtime(), p, d) }

// LockTestAndSet stores v into *p and returns the old value.
func LockTestAndSet[T Integer](p *T, v T) T { return api.LockTestAndSet(runtime(), p, v) }

// BoolCompareAndSwap stores v into *p if it holds old, and reports whether
// it did.
func BoolCompareAndSwap[T Integer](p *T, old, v T) bool {
	return api.BoolCompareAndSwap(runtime(), p, old, v)
}

// ValCompareAndSwap stores v into *p if it holds old, and returns the value
// *p held before.
func ValCompareAndSwap[T Integer](p *T, old, v T) T {
	return api.ValCompareAndSwap(runtime(), p, old, v)
}

// Load atomically loads *p.
func Load[T Integer](p *T) T { return api.Load(runtime(), p) }
