// Copyright 2025 The syncreplay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kolkov/syncreplay/internal/replay/arena"
	"github.com/kolkov/syncreplay/internal/replay/clock"
	"github.com/kolkov/syncreplay/internal/replay/config"
	"github.com/kolkov/syncreplay/internal/replay/diag"
	"github.com/kolkov/syncreplay/internal/replay/eventlog"
	"github.com/kolkov/syncreplay/internal/replay/host"
	"github.com/kolkov/syncreplay/internal/replay/mode"
	"github.com/kolkov/syncreplay/internal/replay/record"
	"github.com/kolkov/syncreplay/internal/replay/stats"
	"github.com/kolkov/syncreplay/internal/replay/thread"
)

// ErrNotInitialized is returned by calls that need Init to have run.
var ErrNotInitialized = errors.New("api: runtime not initialized")

// sweepInterval is the number of adopted goroutines between sweeps of
// exited ones.
const sweepInterval = 64

// IgnoreForcer is implemented by collaborators that can suspend logging on
// every thread at once.
type IgnoreForcer interface {
	ForceIgnore(fn func())
}

// Runtime is the mode controller. It owns the process-wide mode cell, the
// clock, the thread registry and the private locks that serialize one-time
// initializers and atomic builtins.
type Runtime struct {
	h      host.Collaborator
	cfg    config.Config
	format record.Format
	lg     *zap.Logger
	m      *stats.Metrics
	report io.Writer

	st      *mode.State
	clk     clock.Clock
	threads *thread.Registry

	// onceMu serializes Once bodies; atomicMu serializes atomic builtins
	// while recording. Neither is logged.
	onceMu   ownerLock
	atomicMu sync.Mutex

	initOnce sync.Once
	initErr  error
	ready    atomic.Bool

	consumersMu sync.Mutex
	consumers   []LockConsumer
	injected    bool

	adopted atomic.Uint64
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger for the runtime and every thread log.
func WithLogger(lg *zap.Logger) Option {
	return func(rt *Runtime) { rt.lg = diag.OrNop(lg) }
}

// WithMetrics sets the counters updated by every thread log.
func WithMetrics(m *stats.Metrics) Option {
	return func(rt *Runtime) { rt.m = m }
}

// WithReportWriter sets where replay mismatch reports are written.
// The default is os.Stderr.
func WithReportWriter(w io.Writer) Option {
	return func(rt *Runtime) { rt.report = w }
}

// WithLockConsumer registers c to receive the runtime's lock factory
// during Init.
func WithLockConsumer(c LockConsumer) Option {
	return func(rt *Runtime) { rt.consumers = append(rt.consumers, c) }
}

// New creates a Runtime talking to h. cfg supplies the arena size, the
// record format and the exhaustion policy; the mode itself comes from h.
func New(h host.Collaborator, cfg config.Config, opts ...Option) *Runtime {
	rt := &Runtime{
		h:       h,
		cfg:     cfg,
		lg:      zap.NewNop(),
		report:  os.Stderr,
		st:      mode.NewState(mode.Off),
		threads: thread.NewRegistry(),
	}
	if f, err := record.ParseFormat(cfg.Format); err == nil {
		rt.format = f
	}
	if rt.cfg.LogSize <= 0 {
		rt.cfg.LogSize = arena.DefaultLogSize
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Init queries the mode and, unless it is Off, sets up the clock and the
// calling goroutine's thread, which becomes thread "0". It then hands the
// lock factory to every registered LockConsumer. Init runs once; later
// calls return the first result.
//
// A collaborator failure is process-fatal through diag.Fatal; the error is
// also returned for the case of a non-exiting hook.
func (rt *Runtime) Init() error {
	rt.initOnce.Do(func() {
		rt.initErr = rt.init()
		if rt.initErr != nil {
			diag.Fatal(rt.lg, diag.ExitSetup, "replay runtime setup failed", rt.initErr)
			return
		}
		rt.ready.Store(true)
		rt.injectLocks()
	})
	return rt.initErr
}

func (rt *Runtime) init() error {
	m, err := rt.h.QueryMode()
	if err != nil {
		return fmt.Errorf("api: query mode: %w", err)
	}
	if m == mode.ReplayAfterFork {
		m = mode.Replaying
	}
	rt.st.Store(m)
	rt.lg.Info("replay runtime starting", zap.Stringer("mode", m), zap.Stringer("format", rt.format))
	if m == mode.Off {
		return nil
	}

	exists, clk, err := rt.h.GetOrCreateClockPage()
	if err != nil {
		return fmt.Errorf("api: clock page: %w", err)
	}
	rt.clk = clk

	root, err := rt.startThread(thread.RootID)
	if err != nil {
		return err
	}

	if !exists {
		a := root.Arena()
		a.SetIgnore(true)
		err = rt.h.InitProcess(rt.st, clk, rt.recordHook, rt.replayHook)
		a.SetIgnore(false)
		if err != nil {
			return fmt.Errorf("api: init process: %w", err)
		}
	}
	return nil
}

// Mode returns the cached process mode.
func (rt *Runtime) Mode() mode.Mode {
	return rt.st.Load()
}

// Clock returns the shared clock, or nil when Off.
func (rt *Runtime) Clock() clock.Clock {
	return rt.clk
}

// Threads returns the thread registry.
func (rt *Runtime) Threads() *thread.Registry {
	return rt.threads
}

// AfterFork is called in a forked child. A recording process closes the
// calling thread's log at the fork point with logging frozen on every
// thread: the open run is flushed, the segment persisted and the header
// reset. A replaying process moves to ReplayAfterFork; the first logged
// operation afterwards performs the same reset on its thread's log and
// returns the process to Replaying.
func (rt *Runtime) AfterFork() {
	switch rt.st.Load() {
	case mode.Replaying:
		rt.st.CompareAndSwap(mode.Replaying, mode.ReplayAfterFork)
	case mode.Recording:
		t, ok := rt.threads.Current()
		if !ok || t.Detached() {
			return
		}
		mark := func() {
			if err := t.Log.MarkFork(); err != nil {
				t.Detach()
				diag.Fatal(rt.lg, diag.ExitLog, "closing log at fork failed", err, zap.String("thread", t.ID))
			}
		}
		if f, ok := rt.h.(IgnoreForcer); ok {
			f.ForceIgnore(mark)
			return
		}
		a := t.Arena()
		prev := a.SetIgnore(true)
		mark()
		a.SetIgnore(prev)
	}
}

// Fini finishes every thread still registered, persisting the tail of each
// recorded log. Goroutines must have stopped using wrappers by then.
func (rt *Runtime) Fini() error {
	if !rt.ready.Load() {
		return ErrNotInitialized
	}
	var errs []error
	rt.threads.Range(func(t *thread.Thread) bool {
		errs = append(errs, rt.finishThread(t))
		return true
	})
	return errors.Join(errs...)
}

// startThread allocates, registers and binds a thread for the calling
// goroutine.
func (rt *Runtime) startThread(id string) (*thread.Thread, error) {
	a, err := arena.Allocate(id, rt.cfg.LogSize, rt.format)
	if err != nil {
		return nil, fmt.Errorf("api: allocate arena: %w", err)
	}
	if err := rt.h.RegisterArena(a); err != nil {
		a.Free()
		return nil, fmt.Errorf("api: register arena %s: %w", id, err)
	}
	lg := eventlog.New(a, rt.clk, rt.h, eventlog.WithLogger(rt.lg), eventlog.WithMetrics(rt.m))
	t := thread.New(id, lg)
	rt.threads.Bind(t)
	rt.lg.Debug("thread started", zap.String("thread", id), zap.Int64("goid", t.GID))
	return t, nil
}

// finishThread unbinds t, closes its log and frees its arena.
func (rt *Runtime) finishThread(t *thread.Thread) error {
	if _, ok := rt.threads.Release(t.GID); !ok {
		return nil
	}
	return rt.teardown(t)
}

// teardown persists the tail of an unbound thread's recorded log and
// releases its arena.
func (rt *Runtime) teardown(t *thread.Thread) error {
	a := t.Arena()
	var errs []error
	if rt.st.Load() == mode.Recording && !t.Detached() {
		errs = append(errs, t.Log.Flush(), rt.h.NotifyLogFull(a))
	}
	if r, ok := rt.h.(host.Releaser); ok {
		errs = append(errs, r.ReleaseArena(a))
	}
	errs = append(errs, a.Free())
	rt.lg.Debug("thread finished", zap.String("thread", t.ID))
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("api: finish thread %s: %w", t.ID, err)
	}
	return nil
}

// current returns the calling goroutine's thread, adopting the goroutine
// if it has none yet.
func (rt *Runtime) current() *thread.Thread {
	if t, ok := rt.threads.Current(); ok {
		return t
	}
	if !rt.ready.Load() {
		return nil
	}
	id := rt.threads.AdoptedID()
	t, err := rt.startThread(id)
	if err != nil {
		diag.Fatal(rt.lg, diag.ExitAlloc, "cannot start adopted thread", err, zap.String("thread", id))
		return nil
	}
	rt.lg.Debug("adopted goroutine not started by Spawn; its id is not stable across runs",
		zap.String("thread", id))
	if rt.adopted.Add(1)%sweepInterval == 0 {
		rt.sweep()
	}
	return t
}

// sweep finishes threads whose goroutine exited without finishing them.
// A thread whose log tail cannot be persisted is fatal.
func (rt *Runtime) sweep() int {
	return rt.threads.Sweep(func(t *thread.Thread) {
		if err := rt.teardown(t); err != nil {
			diag.Fatal(rt.lg, diag.ExitLog, "exited thread teardown failed", err, zap.String("thread", t.ID))
		}
	})
}

func (rt *Runtime) recordHook(retval int32, tag record.Tag, key uint64, isEnter bool) error {
	t := rt.current()
	if t == nil {
		return ErrNotInitialized
	}
	return t.Log.Record(retval, tag, key, isEnter)
}

func (rt *Runtime) replayHook(tag record.Tag, key uint64) (int32, error) {
	t := rt.current()
	if t == nil {
		return 0, ErrNotInitialized
	}
	return t.Log.Replay(tag, key)
}
