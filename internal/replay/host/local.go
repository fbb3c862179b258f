package host

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petermattis/goid"
	"go.uber.org/zap"

	"github.com/kolkov/syncreplay/internal/replay/arena"
	"github.com/kolkov/syncreplay/internal/replay/clock"
	"github.com/kolkov/syncreplay/internal/replay/config"
	"github.com/kolkov/syncreplay/internal/replay/diag"
	"github.com/kolkov/syncreplay/internal/replay/eventlog"
	"github.com/kolkov/syncreplay/internal/replay/logdb"
	"github.com/kolkov/syncreplay/internal/replay/mode"
)

var (
	// ErrNotRegistered is returned when the calling goroutine has no
	// registered arena.
	ErrNotRegistered = errors.New("host: no arena registered for this goroutine")

	// ErrFormatMismatch is returned when a stored segment was recorded in a
	// different format than the arena replaying it.
	ErrFormatMismatch = errors.New("host: segment format does not match arena")
)

// pollInterval is how often BlockUntilClock re-reads a clock that cannot be
// waited on.
const pollInterval = 50 * time.Microsecond

// Local is an in-process Collaborator backed by a logdb.Store.
type Local struct {
	cfg       config.Config
	mode      mode.Mode
	store     logdb.Store
	ownStore  bool
	recording string
	lg        *zap.Logger
	ctx       context.Context

	mu      sync.Mutex
	clk     clock.Clock
	page    *clock.Page
	st      *mode.State
	rec     RecordFunc
	rep     ReplayFunc
	owners  map[string]*threadLog
	threads sync.Map // goroutine id -> *threadLog

	signals  atomic.Int64
	onSignal func() error
}

type threadLog struct {
	mu  sync.Mutex
	a   *arena.Arena
	seq int // next segment to persist or load
}

// LocalOption configures a Local.
type LocalOption func(*Local)

// WithLogger sets the logger.
func WithLogger(lg *zap.Logger) LocalOption {
	return func(l *Local) { l.lg = diag.OrNop(lg) }
}

// WithSignalHook sets a function called for every sequenced signal.
func WithSignalHook(fn func() error) LocalOption {
	return func(l *Local) { l.onSignal = fn }
}

// WithContext sets the context used for store operations.
func WithContext(ctx context.Context) LocalOption {
	return func(l *Local) { l.ctx = ctx }
}

// NewLocal returns a Local using store for segments. cfg must validate.
// When recording without a configured recording id a fresh one is
// generated; see Recording.
func NewLocal(cfg config.Config, store logdb.Store, opts ...LocalOption) (*Local, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Local{
		cfg:       cfg,
		mode:      cfg.ParsedMode(),
		store:     store,
		recording: cfg.RecordingID,
		lg:        zap.NewNop(),
		ctx:       context.Background(),
		owners:    make(map[string]*threadLog),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.recording == "" {
		l.recording = logdb.NewRecordingID()
	}
	l.lg = l.lg.With(zap.String("recording", l.recording))
	return l, nil
}

// OpenLocal opens the store named by cfg and returns a Local owning it.
func OpenLocal(cfg config.Config, opts ...LocalOption) (*Local, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := logdb.Open(cfg.StoreKind, cfg.StoreDir)
	if err != nil {
		return nil, fmt.Errorf("host: open store: %w", err)
	}
	l, err := NewLocal(cfg, store, opts...)
	if err != nil {
		store.Close()
		return nil, err
	}
	l.ownStore = true
	return l, nil
}

// Recording returns the id segments are stored under.
func (l *Local) Recording() string { return l.recording }

// Store returns the segment store.
func (l *Local) Store() logdb.Store { return l.store }

// Signals returns the number of signals sequenced so far.
func (l *Local) Signals() int64 { return l.signals.Load() }

// QueryMode implements Collaborator.
func (l *Local) QueryMode() (mode.Mode, error) {
	if st := l.state(); st != nil {
		return st.Load(), nil
	}
	return l.mode, nil
}

func (l *Local) state() *mode.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.st
}

// GetOrCreateClockPage implements Collaborator. With a configured clock
// path an existing page is reused; otherwise a page is created there. With
// no path an in-process Counter is created.
func (l *Local) GetOrCreateClockPage() (bool, clock.Clock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.clk != nil {
		return true, l.clk, nil
	}
	if l.cfg.ClockPath == "" {
		l.clk = clock.NewCounter()
		return false, l.clk, nil
	}

	if _, err := os.Stat(l.cfg.ClockPath); err == nil {
		p, err := clock.OpenPage(l.cfg.ClockPath)
		if err != nil {
			return false, nil, err
		}
		l.page, l.clk = p, p
		return true, p, nil
	}
	p, err := clock.CreatePage(l.cfg.ClockPath)
	if err != nil {
		return false, nil, err
	}
	l.page, l.clk = p, p
	return false, p, nil
}

// InitProcess implements Collaborator.
func (l *Local) InitProcess(st *mode.State, clk clock.Clock, rec RecordFunc, rep ReplayFunc) error {
	if st == nil || clk == nil {
		return errors.New("host: InitProcess needs a mode cell and a clock")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.st, l.clk, l.rec, l.rep = st, clk, rec, rep
	l.lg.Debug("process initialized", zap.Stringer("mode", st.Load()))
	return nil
}

// Hooks returns the entry points passed to InitProcess.
func (l *Local) Hooks() (RecordFunc, ReplayFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rec, l.rep
}

// RegisterArena implements Collaborator. While replaying, the first
// segment of the owner's log is loaded into a.
func (l *Local) RegisterArena(a *arena.Arena) error {
	t := &threadLog{a: a}

	l.mu.Lock()
	if prev, ok := l.owners[a.Owner()]; ok {
		// A re-registered owner continues its segment sequence.
		t.seq = prev.seq
	}
	l.owners[a.Owner()] = t
	l.mu.Unlock()
	l.threads.Store(goid.Get(), t)

	l.lg.Debug("arena registered", zap.String("thread", a.Owner()), zap.Int("size", a.Size()))
	if l.mode != mode.Replaying {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := l.loadNext(t)
	return err
}

// ReleaseArena implements Releaser.
func (l *Local) ReleaseArena(a *arena.Arena) error {
	l.threads.Range(func(k, v any) bool {
		if v.(*threadLog).a == a {
			l.threads.Delete(k)
		}
		return true
	})
	return nil
}

// BlockUntilClock implements Collaborator.
func (l *Local) BlockUntilClock(target uint64) error {
	if target == clock.Exhausted {
		return l.awaitData()
	}

	l.mu.Lock()
	clk := l.clk
	l.mu.Unlock()
	if clk == nil {
		return errors.New("host: no clock")
	}
	if w, ok := clk.(clock.Waiter); ok {
		w.WaitAtLeast(target)
		return nil
	}
	for clk.Load() < target {
		time.Sleep(pollInterval)
	}
	return nil
}

// awaitData loads the calling thread's next segment, if there is one.
func (l *Local) awaitData() error {
	v, ok := l.threads.Load(goid.Get())
	if !ok {
		return ErrNotRegistered
	}
	t := v.(*threadLog)
	t.mu.Lock()
	defer t.mu.Unlock()

	loaded, err := l.loadNext(t)
	if err != nil {
		return err
	}
	if !loaded {
		l.lg.Debug("log exhausted", zap.String("thread", t.a.Owner()), zap.Int("segments", t.seq))
		return eventlog.ErrLogExhausted
	}
	return nil
}

// NotifyLogFull implements Collaborator. While recording the arena contents
// become the owner's next segment and the arena is zeroed; while replaying
// the next segment is loaded, or the arena is emptied if there is none.
func (l *Local) NotifyLogFull(a *arena.Arena) error {
	t, err := l.owner(a)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if l.mode == mode.Replaying {
		loaded, err := l.loadNext(t)
		if err != nil {
			return err
		}
		if !loaded {
			return a.Load(nil)
		}
		return nil
	}

	return l.persist(t, false)
}

// NotifyFork implements eventlog.ForkNotifier. While recording the arena
// contents become the owner's next segment even when empty, so a replay
// that wraps exactly at the fork point still finds the post-fork history
// one segment later. While replaying it behaves like NotifyLogFull.
func (l *Local) NotifyFork(a *arena.Arena) error {
	if l.mode == mode.Replaying {
		return l.NotifyLogFull(a)
	}
	t, err := l.owner(a)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return l.persist(t, true)
}

// persist stores the arena contents as segment t.seq and zeroes the arena.
// Empty arenas are skipped unless keepEmpty is set. t.mu must be held.
func (l *Local) persist(t *threadLog, keepEmpty bool) error {
	a := t.a
	snap := a.Snapshot()
	if len(snap) > 0 || keepEmpty {
		seg := logdb.Segment{
			Recording: l.recording,
			Thread:    a.Owner(),
			Seq:       t.seq,
			Format:    a.Format(),
			Data:      snap,
		}
		if err := l.store.PutSegment(l.ctx, seg); err != nil {
			return fmt.Errorf("host: persist %s segment %d: %w", a.Owner(), t.seq, err)
		}
		l.lg.Debug("segment persisted", zap.String("thread", a.Owner()),
			zap.Int("seq", t.seq), zap.Int("bytes", len(snap)))
		t.seq++
	}
	a.Clear()
	return nil
}

func (l *Local) owner(a *arena.Arena) (*threadLog, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.owners[a.Owner()]
	if !ok || t.a != a {
		return nil, fmt.Errorf("host: arena %s is not registered", a.Owner())
	}
	return t, nil
}

// loadNext loads segment t.seq into t.a. It reports false, leaving the
// arena untouched, when no such segment exists. t.mu must be held.
func (l *Local) loadNext(t *threadLog) (bool, error) {
	seg, err := l.store.Segment(l.ctx, l.recording, t.a.Owner(), t.seq)
	if errors.Is(err, logdb.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("host: load %s segment %d: %w", t.a.Owner(), t.seq, err)
	}
	if seg.Format != t.a.Format() {
		return false, fmt.Errorf("%w: %s segment %d is %s, arena is %s",
			ErrFormatMismatch, t.a.Owner(), t.seq, seg.Format, t.a.Format())
	}
	if err := t.a.Load(seg.Data); err != nil {
		return false, fmt.Errorf("host: load %s segment %d: %w", t.a.Owner(), t.seq, err)
	}
	l.lg.Debug("segment loaded", zap.String("thread", t.a.Owner()),
		zap.Int("seq", t.seq), zap.Int("bytes", len(seg.Data)))
	t.seq++
	return true, nil
}

// SequenceOneSignal implements Collaborator.
func (l *Local) SequenceOneSignal() error {
	l.signals.Add(1)
	if l.onSignal != nil {
		return l.onSignal()
	}
	return nil
}

// DeliverSignal reports whether a signal arriving for the thread owning a
// was deferred. A signal is deferred, and counted as a fake call on the
// arena, when the thread is inside an ignored region; otherwise the caller
// delivers it immediately.
func (l *Local) DeliverSignal(a *arena.Arena) bool {
	if !a.Ignored() {
		return false
	}
	a.AddFakeCall()
	return true
}

// ForceIgnore sets the ignore flag of every registered arena while fn runs
// and restores the previous values afterwards.
func (l *Local) ForceIgnore(fn func()) {
	l.mu.Lock()
	arenas := make([]*arena.Arena, 0, len(l.owners))
	for _, t := range l.owners {
		arenas = append(arenas, t.a)
	}
	l.mu.Unlock()

	prev := make([]bool, len(arenas))
	for i, a := range arenas {
		prev[i] = a.SetIgnore(true)
	}
	defer func() {
		for i, a := range arenas {
			a.SetIgnore(prev[i])
		}
	}()
	fn()
}

// Close releases the clock page and, for a Local made by OpenLocal, the
// store.
func (l *Local) Close() error {
	l.mu.Lock()
	page := l.page
	l.page = nil
	l.mu.Unlock()

	var errs []error
	if page != nil {
		errs = append(errs, page.Close())
	}
	if l.ownStore {
		errs = append(errs, l.store.Close())
	}
	return errors.Join(errs...)
}

var (
	_ Collaborator  = (*Local)(nil)
	_ Releaser      = (*Local)(nil)
	_ eventlog.Host         = (*Local)(nil)
	_ eventlog.ForkNotifier = (*Local)(nil)
)
