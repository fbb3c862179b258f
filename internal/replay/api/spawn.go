// Copyright 2025 The syncreplay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"time"

	"go.uber.org/zap"

	"github.com/kolkov/syncreplay/internal/replay/diag"
	"github.com/kolkov/syncreplay/internal/replay/record"
)

// Handle identifies a goroutine started with Spawn.
type Handle struct {
	id   string
	key  uint64
	done chan struct{}
}

// ID returns the thread id of the spawned goroutine, or "" if it runs
// unlogged.
func (h *Handle) ID() string { return h.id }

// Done is closed once the spawned goroutine has finished, including its
// thread teardown.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Spawn runs fn in a new goroutine. When the process is logged the
// goroutine gets the next child id of the calling thread, so its log is
// found again on replay. The thread is set up before fn runs and its log
// persisted after fn returns.
func (rt *Runtime) Spawn(fn func()) *Handle {
	h := &Handle{done: make(chan struct{})}
	if rt.st.Load().Logging() {
		if parent := rt.current(); parent != nil {
			h.id = parent.ChildID()
			h.key = parent.ObjectKey()
		}
	}

	go func() {
		defer close(h.done)
		if h.id != "" {
			t, err := rt.startThread(h.id)
			if err != nil {
				diag.Fatal(rt.lg, diag.ExitAlloc, "cannot start spawned thread", err, zap.String("thread", h.id))
			} else {
				defer func() {
					if err := rt.finishThread(t); err != nil {
						diag.Fatal(rt.lg, diag.ExitLog, "spawned thread teardown failed", err, zap.String("thread", t.ID))
					}
				}()
			}
		}
		fn()
	}()
	return h
}

// WaitThread blocks until the goroutine behind h has finished.
func (rt *Runtime) WaitThread(h *Handle) {
	rc := rt.call(record.OpWaitThread, h.key, func() int32 {
		<-h.done
		return rcOK
	})
	if rc == rcOK {
		// Under replay the join was only sequenced.
		<-h.done
	}
}

// TimedWaitThread is WaitThread bounded by d. It reports false if the
// goroutine was still running when d passed.
func (rt *Runtime) TimedWaitThread(h *Handle, d time.Duration) bool {
	rc := rt.call(record.OpTimedWaitThread, h.key, func() int32 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-h.done:
			return rcOK
		case <-timer.C:
			return rcTimeout
		}
	})
	if rc == rcOK {
		<-h.done
	}
	return rc == rcOK
}
