package replay_test

import (
	"fmt"

	"github.com/kolkov/syncreplay/replay"
)

// Example shows the primitives before Init, when nothing is logged.
func Example() {
	mu := replay.NewMutex()
	var hits int64

	var hs []*replay.Handle
	for i := 0; i < 4; i++ {
		hs = append(hs, replay.Go(func() {
			mu.Lock()
			replay.AddAndFetch(&hits, 1)
			mu.Unlock()
		}))
	}
	for _, h := range hs {
		replay.Wait(h)
	}
	fmt.Println(replay.Load(&hits), replay.Mode())

	// Output:
	// 4 off
}

// Example_once demonstrates a logged Once.
func Example_once() {
	once := replay.NewOnce()
	for i := 0; i < 3; i++ {
		once.Do(func() { fmt.Println("initialized") })
	}

	// Output:
	// initialized
}

// Example_getInfo prints runtime information.
func Example_getInfo() {
	info := replay.GetInfo()
	fmt.Printf("syncreplay %s (%s)\n", info.Version, info.Mode)

	// Output:
	// syncreplay 0.1.0 (off)
}
