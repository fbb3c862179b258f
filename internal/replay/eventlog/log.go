package eventlog

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kolkov/syncreplay/internal/replay/arena"
	"github.com/kolkov/syncreplay/internal/replay/clock"
	"github.com/kolkov/syncreplay/internal/replay/diag"
	"github.com/kolkov/syncreplay/internal/replay/record"
	"github.com/kolkov/syncreplay/internal/replay/stats"
)

// ErrLogExhausted is returned by Replay when the collaborator reports that
// the thread's recorded log has no further data.
var ErrLogExhausted = errors.New("eventlog: recorded log exhausted")

// Host is the part of the collaborator the event log calls into.
type Host interface {
	// BlockUntilClock suspends the caller until the shared clock is at
	// least target. With target clock.Exhausted it instead waits for more
	// log data to be loaded into the caller's arena, returning
	// ErrLogExhausted if there will be none.
	BlockUntilClock(target uint64) error

	// NotifyLogFull is called with a full arena before it is rewound.
	NotifyLogFull(a *arena.Arena) error

	// SequenceOneSignal marks the point where one signal delivered during
	// an ignored region is re-delivered on replay.
	SequenceOneSignal() error
}

// ForkNotifier is implemented by hosts that keep a fork point in a
// recording even when the arena holds nothing to persist.
type ForkNotifier interface {
	// NotifyFork closes the owner's current segment at a fork point. The
	// segment is kept even when empty.
	NotifyFork(a *arena.Arena) error
}

// Log is one thread's encoder and replay driver.
type Log struct {
	a   *arena.Arena
	clk clock.Clock
	h   Host
	lg  *zap.Logger
	m   *stats.Metrics
}

// Option configures a Log.
type Option func(*Log)

// WithLogger sets the logger used for per-event debug traces.
func WithLogger(lg *zap.Logger) Option {
	return func(l *Log) { l.lg = diag.OrNop(lg) }
}

// WithMetrics sets the counters updated by the log.
func WithMetrics(m *stats.Metrics) Option {
	return func(l *Log) { l.m = m }
}

// New creates a Log over a.
func New(a *arena.Arena, clk clock.Clock, h Host, opts ...Option) *Log {
	l := &Log{a: a, clk: clk, h: h, lg: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	l.lg = l.lg.With(zap.String("thread", a.Owner()))
	return l
}

// Arena returns the arena the log writes to.
func (l *Log) Arena() *arena.Arena { return l.a }

// Record logs one event while recording. isEnter becomes the new value of
// the arena's ignore flag.
func (l *Log) Record(retval int32, tag record.Tag, key uint64, isEnter bool) error {
	var err error
	if l.a.Format() == record.Verbose {
		err = l.recordVerbose(retval, tag, key)
	} else {
		err = l.recordCompact(retval, tag, key)
	}
	l.a.SetIgnore(isEnter)
	return err
}

func (l *Log) recordCompact(retval int32, tag record.Tag, key uint64) error {
	a := l.a
	now := l.clk.FetchAndIncrement()
	skip := now - a.ExpectedClock()
	a.SetExpectedClock(now + 1)

	if retval == 0 && skip == 0 && a.PendingFakeCalls() == 0 && a.Run() < record.RunMask {
		a.SetRun(a.Run() + 1)
		l.m.Recorded(true)
		l.trace("recorded", now, retval, tag, key)
		return nil
	}

	fake := a.TakeFakeCalls()
	rec := record.NewCompact(a.Run(), skip, retval, fake)
	if err := l.write(rec); err != nil {
		return err
	}
	a.SetRun(0)
	l.m.Recorded(false)
	l.m.Faked(fake)
	l.trace("recorded", now, retval, tag, key)
	return l.wrapIfFull()
}

func (l *Log) recordVerbose(retval int32, tag record.Tag, key uint64) error {
	if fake := l.a.TakeFakeCalls(); fake > 0 {
		if err := l.write(record.NewFakeCalls(fake)); err != nil {
			return err
		}
		l.m.Faked(fake)
		if err := l.wrapIfFull(); err != nil {
			return err
		}
	}

	now := l.clk.FetchAndIncrement()
	if err := l.write(record.VerboseRecord{Clock: now, Retval: retval, Tag: tag, Check: key}); err != nil {
		return err
	}
	l.m.Recorded(false)
	l.trace("recorded", now, retval, tag, key)
	return l.wrapIfFull()
}

// Flush closes an open run so that the arena contents replay to exactly the
// events recorded so far. It is a no-op in the verbose format.
//
// A run of N boring events is written as a run of N-1 followed by an
// explicit zero-skip record, which keeps the tag non-zero for N == 1.
func (l *Log) Flush() error {
	a := l.a
	if a.Format() != record.Compact || a.Run() == 0 {
		return nil
	}
	rec := record.CompactRecord{Run: a.Run() - 1, Flags: record.FlagSkippedClock}
	if err := l.write(rec); err != nil {
		return err
	}
	a.SetRun(0)
	return l.wrapIfFull()
}

// Replay feeds one event from the log and returns its recorded return
// value. It blocks until the shared clock allows the event to proceed.
func (l *Log) Replay(tag record.Tag, key uint64) (int32, error) {
	var (
		ret int32
		err error
	)
	if l.a.Format() == record.Verbose {
		ret, err = l.replayVerbose(tag, key)
	} else {
		ret, err = l.replayCompact(tag, key)
	}
	if err == nil {
		l.m.Replayed()
	}
	return ret, err
}

func (l *Log) replayCompact(tag record.Tag, key uint64) (int32, error) {
	a := l.a

	if a.Run() > 1 {
		a.SetRun(a.Run() - 1)
		l.advanceBoring(tag, key)
		return 0, nil
	}

	if a.Run() == 0 {
		word, err := l.nextCompactTag()
		if err != nil {
			return 0, err
		}
		if run := word & record.RunMask; run != 0 {
			a.SetRun(run)
			l.advanceBoring(tag, key)
			return 0, nil
		}
	}

	r := record.NewReader(a.Tail())
	rec, err := record.DecodeCompact(r)
	if err != nil {
		return 0, fmt.Errorf("eventlog: decode record at %d in %s: %w", a.Cursor(), a.Owner(), err)
	}
	a.Advance(r.Len())
	a.SetRun(0)

	if err := l.sequenceFakeCalls(rec.FakeCalls); err != nil {
		return 0, err
	}

	target := a.ExpectedClock() + rec.Skip
	if err := l.waitFor(target); err != nil {
		return 0, err
	}
	a.SetExpectedClock(target + 1)
	l.clk.Increment()
	l.trace("replayed", target, rec.Retval, tag, key)

	return rec.Retval, l.wrapIfFull()
}

// advanceBoring consumes one unit of an open run.
func (l *Log) advanceBoring(tag record.Tag, key uint64) {
	exp := l.a.ExpectedClock()
	l.a.SetExpectedClock(exp + 1)
	l.clk.Increment()
	l.trace("replayed", exp, 0, tag, key)
}

// nextCompactTag returns the tag word at the cursor, waiting for the
// collaborator to supply data while the slot is unwritten.
func (l *Log) nextCompactTag() (uint32, error) {
	for {
		word, err := record.PeekCompactTag(record.NewReader(l.a.Tail()))
		switch {
		case err == nil:
			return word, nil
		case errors.Is(err, record.ErrNoData):
			if err := l.waitForData(); err != nil {
				return 0, err
			}
		default:
			return 0, fmt.Errorf("eventlog: read tag at %d in %s: %w", l.a.Cursor(), l.a.Owner(), err)
		}
	}
}

func (l *Log) replayVerbose(tag record.Tag, key uint64) (int32, error) {
	a := l.a
	for {
		r := record.NewReader(a.Tail())
		v, err := record.DecodeVerbose(r)
		if errors.Is(err, record.ErrNoData) {
			if err := l.waitForData(); err != nil {
				return 0, err
			}
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("eventlog: decode record at %d in %s: %w", a.Cursor(), a.Owner(), err)
		}

		if v.IsFakeCalls() {
			a.Advance(r.Len())
			if err := l.wrapIfFull(); err != nil {
				return 0, err
			}
			if err := l.sequenceFakeCalls(v.FakeCalls()); err != nil {
				return 0, err
			}
			continue
		}

		if v.Tag != tag || v.Check != key {
			l.m.Mismatched()
			return 0, &MismatchError{
				Thread:    a.Owner(),
				Clock:     v.Clock,
				LogTag:    v.Tag,
				LogCheck:  v.Check,
				CallTag:   tag,
				CallCheck: key,
				Stack:     diag.Capture(2),
			}
		}

		if err := l.waitFor(v.Clock); err != nil {
			return 0, err
		}
		l.clk.Increment()
		a.Advance(r.Len())
		l.trace("replayed", v.Clock, v.Retval, tag, key)
		return v.Retval, l.wrapIfFull()
	}
}

// MarkFork closes the log at a fork point while recording. The open run is
// flushed, the segment is handed to the host and every header field is
// reset, so the post-fork history starts a new segment from expected clock
// zero. ResetAfterFork performs the matching step on replay.
func (l *Log) MarkFork() error {
	if err := l.Flush(); err != nil {
		return fmt.Errorf("eventlog: mark fork: %w", err)
	}
	var err error
	if fn, ok := l.h.(ForkNotifier); ok {
		err = fn.NotifyFork(l.a)
	} else {
		err = l.h.NotifyLogFull(l.a)
	}
	if err != nil {
		return fmt.Errorf("eventlog: mark fork: %w", err)
	}
	l.a.ResetCounters()
	l.lg.Debug("log closed at fork")
	return nil
}

// ResetAfterFork prepares an arena inherited across fork for reuse: the
// collaborator is told the log is full once, then the cursor and every
// header field are reset.
func (l *Log) ResetAfterFork() error {
	l.m.Wrapped()
	if err := l.h.NotifyLogFull(l.a); err != nil {
		return fmt.Errorf("eventlog: reset after fork: %w", err)
	}
	l.a.ResetCounters()
	l.lg.Debug("arena reset after fork")
	return nil
}

func (l *Log) write(rec record.Record) error {
	w := record.NewWriter(l.a.Tail())
	if err := rec.Encode(w); err != nil {
		return fmt.Errorf("eventlog: append at %d in %s: %w", l.a.Cursor(), l.a.Owner(), err)
	}
	l.a.Advance(w.Len())
	l.m.Written(1)
	return nil
}

func (l *Log) wrapIfFull() error {
	if !l.a.Full() {
		return nil
	}
	l.m.Wrapped()
	l.lg.Debug("log full", zap.Int("cursor", l.a.Cursor()))
	if err := l.h.NotifyLogFull(l.a); err != nil {
		return fmt.Errorf("eventlog: notify log full: %w", err)
	}
	l.a.Rewind()
	return nil
}

func (l *Log) waitFor(target uint64) error {
	for l.clk.Load() < target {
		l.m.Blocked()
		if err := l.h.BlockUntilClock(target); err != nil {
			return fmt.Errorf("eventlog: wait for clock %d: %w", target, err)
		}
	}
	return nil
}

func (l *Log) waitForData() error {
	l.m.Blocked()
	if err := l.h.BlockUntilClock(clock.Exhausted); err != nil {
		if errors.Is(err, ErrLogExhausted) {
			return err
		}
		return fmt.Errorf("eventlog: wait for log data: %w", err)
	}
	return nil
}

func (l *Log) sequenceFakeCalls(n uint32) error {
	for i := uint32(0); i < n; i++ {
		if err := l.h.SequenceOneSignal(); err != nil {
			return fmt.Errorf("eventlog: sequence signal: %w", err)
		}
	}
	l.m.Faked(n)
	return nil
}

func (l *Log) trace(msg string, clk uint64, retval int32, tag record.Tag, key uint64) {
	if ce := l.lg.Check(zap.DebugLevel, msg); ce != nil {
		ce.Write(
			zap.Uint64("clock", clk),
			zap.Int32("retval", retval),
			zap.Stringer("tag", tag),
			zap.Uint64("check", key),
		)
	}
}
