// Copyright 2025 The syncreplay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package api implements the mode controller and the interception layer.
//
// A Runtime decides once, by asking its host.Collaborator, whether the
// process is recording, replaying or running unlogged. Every wrapped
// synchronization operation then dispatches on that decision:
//
//   - Off, or inside an ignored region: the underlying primitive runs
//     directly.
//   - Recording: an ENTER event is logged, the underlying primitive runs,
//     and an EXIT event carrying its return code is logged.
//   - Replaying: the ENTER and EXIT events are fed from the log, which
//     blocks until the logical clock reaches them. The underlying primitive
//     does not run; its return code comes from the log.
//
// A few operations have effects that must happen during replay too. A
// Once body and the arithmetic of the atomic builtins run between the two
// replayed events, inside an ignored region, and a thread join really
// waits for the joined goroutine.
//
// Example:
//
//	rt := api.New(h, cfg)
//	if err := rt.Init(); err != nil {
//		log.Fatal(err)
//	}
//	defer rt.Fini()
//
//	mu := rt.NewMutex()
//	var hits uint64
//	w := rt.Spawn(func() {
//		mu.Lock()
//		api.AddAndFetch(rt, &hits, 1)
//		mu.Unlock()
//	})
//	rt.WaitThread(w)
//
// Thread Safety: a Runtime and every wrapper it creates are safe for
// concurrent use.
package api
