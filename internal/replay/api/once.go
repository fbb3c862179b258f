// Copyright 2025 The syncreplay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kolkov/syncreplay/internal/replay/mode"
	"github.com/kolkov/syncreplay/internal/replay/record"
	"github.com/kolkov/syncreplay/internal/replay/thread"
)

// ownerLock is a mutex the holding thread may take again. Once bodies that
// run other Once values nest on it.
type ownerLock struct {
	mu    sync.Mutex
	owner atomic.Pointer[thread.Thread]
	depth int // guarded by owner
}

func (l *ownerLock) Lock(t *thread.Thread) {
	if l.owner.Load() == t {
		l.depth++
		return
	}
	l.mu.Lock()
	l.owner.Store(t)
	l.depth = 1
}

func (l *ownerLock) Unlock() {
	l.depth--
	if l.depth == 0 {
		l.owner.Store(nil)
		l.mu.Unlock()
	}
}

// Once runs a function exactly once, in the same thread order on replay as
// during recording.
type Once struct {
	rt   *Runtime
	key  uint64
	once sync.Once
}

// NewOnce returns a logged Once.
func (rt *Runtime) NewOnce() *Once {
	return &Once{rt: rt, key: rt.objectKey()}
}

// Do calls fn if and only if Do is being called for the first time on o.
// Operations fn performs are logged as usual.
func (o *Once) Do(fn func()) {
	rt := o.rt
	t, m := rt.logging()
	switch m {
	case mode.Recording:
		rt.onceMu.Lock(t)
		defer rt.onceMu.Unlock()
		rt.record(t, 0, record.OpOnce.Enter(), o.key, true)
		t.Arena().SetIgnore(false)
		o.once.Do(fn)
		rt.record(t, rcOK, record.OpOnce.Exit(), o.key, false)
	case mode.Replaying:
		if _, ok := rt.replay(t, record.OpOnce.Enter(), o.key); !ok {
			o.once.Do(fn)
			return
		}
		rt.onceMu.Lock(t)
		o.once.Do(fn)
		rt.onceMu.Unlock()
		rc, ok := rt.replay(t, record.OpOnce.Exit(), o.key)
		if ok && rc != rcOK {
			rt.lg.Warn("once returned differently than recorded",
				zap.String("thread", t.ID), zap.Int32("recorded", rc))
		}
	default:
		o.once.Do(fn)
	}
}
