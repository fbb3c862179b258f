// Copyright 2025 The syncreplay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"errors"

	"go.uber.org/zap"

	"github.com/kolkov/syncreplay/internal/replay/diag"
	"github.com/kolkov/syncreplay/internal/replay/eventlog"
	"github.com/kolkov/syncreplay/internal/replay/mode"
	"github.com/kolkov/syncreplay/internal/replay/record"
	"github.com/kolkov/syncreplay/internal/replay/thread"
)

// logging returns the calling thread and the mode an operation must run
// in. It returns mode.Off, and no thread, when the operation is not to be
// logged: the process is unlogged, the thread is inside an ignored region
// or has detached.
//
// The first logged call after AfterFork moves the process back from
// ReplayAfterFork to Replaying and resets the calling thread's log.
func (rt *Runtime) logging() (*thread.Thread, mode.Mode) {
	m := rt.st.Load()
	if !m.Logging() {
		return nil, mode.Off
	}
	t := rt.current()
	if t == nil || t.Detached() {
		return nil, mode.Off
	}
	if m == mode.ReplayAfterFork {
		if rt.st.CompareAndSwap(mode.ReplayAfterFork, mode.Replaying) {
			if err := t.Log.ResetAfterFork(); err != nil {
				rt.fail(t, err)
				return nil, mode.Off
			}
			rt.lg.Debug("replay resumed after fork", zap.String("thread", t.ID))
		}
		m = mode.Replaying
	}
	if t.Arena().Ignored() {
		return nil, mode.Off
	}
	return t, m
}

// call runs one intercepted operation identified by op and key. underlying
// performs the real operation and returns its code.
func (rt *Runtime) call(op record.Op, key uint64, underlying func() int32) int32 {
	t, m := rt.logging()
	switch m {
	case mode.Recording:
		rt.record(t, 0, op.Enter(), key, true)
		rc := underlying()
		rt.record(t, rc, op.Exit(), key, false)
		return rc
	case mode.Replaying:
		if _, ok := rt.replay(t, op.Enter(), key); !ok {
			return underlying()
		}
		rc, ok := rt.replay(t, op.Exit(), key)
		if !ok {
			return underlying()
		}
		return rc
	default:
		return underlying()
	}
}

// record logs one event. A failure to log is fatal.
func (rt *Runtime) record(t *thread.Thread, rc int32, tag record.Tag, key uint64, isEnter bool) {
	if t.Detached() {
		t.Arena().SetIgnore(isEnter)
		return
	}
	if err := t.Log.Record(rc, tag, key, isEnter); err != nil {
		rt.fail(t, err)
	}
}

// replay feeds one event. It reports false when the thread can no longer
// replay, in which case the thread has detached and the caller falls back
// to the underlying operation.
func (rt *Runtime) replay(t *thread.Thread, tag record.Tag, key uint64) (int32, bool) {
	rc, err := t.Log.Replay(tag, key)
	if err != nil {
		rt.fail(t, err)
		return 0, false
	}
	return rc, true
}

// fail handles a log error on t. Mismatches and I/O failures are fatal. A
// replay that runs past the end of the thread's log is fatal only with
// FailOnExhausted; otherwise the thread detaches and continues unlogged.
func (rt *Runtime) fail(t *thread.Thread, err error) {
	t.Detach()

	var mm *eventlog.MismatchError
	switch {
	case errors.As(err, &mm):
		mm.WriteReport(rt.report)
		diag.Fatal(rt.lg, diag.ExitMismatch, "replay mismatch", err, zap.String("thread", t.ID))
	case errors.Is(err, eventlog.ErrLogExhausted) && !rt.cfg.FailOnExhausted:
		rt.lg.Warn("recorded log exhausted; thread continues unlogged", zap.String("thread", t.ID))
	case errors.Is(err, eventlog.ErrLogExhausted):
		diag.Fatal(rt.lg, diag.ExitLog, "recorded log exhausted", err, zap.String("thread", t.ID))
	default:
		diag.Fatal(rt.lg, diag.ExitLog, "event log failure", err, zap.String("thread", t.ID))
	}
}

// objectKey mints the key for an object created by the calling goroutine.
func (rt *Runtime) objectKey() uint64 {
	if !rt.st.Load().Logging() {
		return 0
	}
	t := rt.current()
	if t == nil {
		return 0
	}
	return t.ObjectKey()
}
