package thread

import (
	"sync"
	"testing"
	"time"

	"github.com/kolkov/syncreplay/internal/replay/objkey"
)

func TestChildID(t *testing.T) {
	root := New(RootID, nil)
	tests := []string{"0.1", "0.2", "0.3"}
	for _, want := range tests {
		if got := root.ChildID(); got != want {
			t.Errorf("ChildID() = %q, want %q", got, want)
		}
	}

	child := New("0.2", nil)
	if got := child.ChildID(); got != "0.2.1" {
		t.Errorf("ChildID() of 0.2 = %q, want %q", got, "0.2.1")
	}
}

func TestObjectKey(t *testing.T) {
	a := New("0.1", nil)
	b := New("0.1", nil)

	for i := 1; i <= 3; i++ {
		ka, kb := a.ObjectKey(), b.ObjectKey()
		if ka != kb {
			t.Errorf("object %d: keys differ for the same thread id: %d vs %d", i, ka, kb)
		}
		if want := objkey.Mint("0.1", uint64(i)); ka != want {
			t.Errorf("object %d: ObjectKey() = %d, want %d", i, ka, want)
		}
	}
}

func TestAddressKey(t *testing.T) {
	th := New("0", nil)
	first := th.ObjectKey()

	a := th.AddressKey(0x1000)
	b := th.AddressKey(0x2000)
	if a == b {
		t.Error("AddressKey() gave two addresses the same key")
	}
	if got := th.AddressKey(0x1000); got != a {
		t.Errorf("AddressKey() on a known address = %d, want %d", got, a)
	}
	if got, want := th.ObjectKey(), objkey.Mint("0", 2); got != want {
		t.Errorf("ObjectKey() after AddressKey = %d, want %d", got, want)
	}
	if first == a || first == b {
		t.Error("AddressKey() collides with ObjectKey()")
	}

	// Another thread touching the same addresses in the same order gets the
	// same keys.
	other := New("0", nil)
	if other.AddressKey(0x5000) != a || other.AddressKey(0x6000) != b {
		t.Error("AddressKey() depends on the address rather than first-touch order")
	}
}

func TestDetach(t *testing.T) {
	th := New(RootID, nil)
	if th.Detached() {
		t.Fatal("new thread is detached")
	}
	if !th.Detach() {
		t.Error("first Detach() = false, want true")
	}
	if th.Detach() {
		t.Error("second Detach() = true, want false")
	}
	if !th.Detached() {
		t.Error("Detached() = false after Detach")
	}
}

func TestRegistryBindCurrentRelease(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Current(); ok {
		t.Fatal("Current() on empty registry returned a thread")
	}

	th := New(RootID, nil)
	r.Bind(th)
	if th.GID == 0 {
		t.Error("Bind() did not set GID")
	}
	got, ok := r.Current()
	if !ok || got != th {
		t.Fatalf("Current() = %v, %v, want %v, true", got, ok, th)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}

	// Rebinding the same goroutine does not double count.
	r.Bind(New("0.9", nil))
	if r.Len() != 1 {
		t.Errorf("Len() after rebind = %d, want 1", r.Len())
	}

	if _, ok := r.Release(th.GID); !ok {
		t.Error("Release() = false, want true")
	}
	if _, ok := r.Release(th.GID); ok {
		t.Error("second Release() = true, want false")
	}
	if r.Len() != 0 {
		t.Errorf("Len() after Release = %d, want 0", r.Len())
	}
}

func TestRegistryPerGoroutine(t *testing.T) {
	r := NewRegistry()
	r.Bind(New(RootID, nil))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, ok := r.Current(); ok {
			t.Error("Current() in a new goroutine returned the parent's thread")
		}
		child := New("0.1", nil)
		r.Bind(child)
		if got, _ := r.Current(); got != child {
			t.Error("Current() in child goroutine did not return the child thread")
		}
		r.Release(child.GID)
	}()
	wg.Wait()

	if got, _ := r.Current(); got == nil || got.ID != RootID {
		t.Errorf("Current() in parent = %v, want thread %q", got, RootID)
	}
}

func TestAdoptedID(t *testing.T) {
	r := NewRegistry()
	if got := r.AdoptedID(); got != "adopted-1" {
		t.Errorf("AdoptedID() = %q, want adopted-1", got)
	}
	if got := r.AdoptedID(); got != "adopted-2" {
		t.Errorf("AdoptedID() = %q, want adopted-2", got)
	}
}

func TestSweep(t *testing.T) {
	r := NewRegistry()
	root := New(RootID, nil)
	r.Bind(root)

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Bind(New("0.1", nil))
	}()
	<-done

	var reclaimed []string
	// The child goroutine may still be unwinding; retry until it is gone.
	for i := 0; i < 1000 && len(reclaimed) == 0; i++ {
		r.Sweep(func(th *Thread) { reclaimed = append(reclaimed, th.ID) })
		if len(reclaimed) == 0 {
			time.Sleep(time.Millisecond)
		}
	}

	if len(reclaimed) != 1 || reclaimed[0] != "0.1" {
		t.Errorf("Sweep() reclaimed %v, want [0.1]", reclaimed)
	}
	if got, _ := r.Current(); got != root {
		t.Error("Sweep() released the live root thread")
	}
}

func TestParseAllGIDs(t *testing.T) {
	dump := []byte("goroutine 1 [running]:\nmain.main()\n\t/x/main.go:10 +0x20\n\n" +
		"goroutine 57 [chan receive]:\nmain.worker()\n\t/x/main.go:20 +0x40\n" +
		"goroutine x [bad]:\n")
	got := parseAllGIDs(dump)
	want := []int64{1, 57}
	if len(got) != len(want) {
		t.Fatalf("parseAllGIDs() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("parseAllGIDs()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestParseGID(t *testing.T) {
	tests := []struct {
		line string
		want int64
	}{
		{"goroutine 42 [running]:", 42},
		{"goroutine 7", 7},
		{"goroutine [running]:", 0},
		{"main.main()", 0},
		{"", 0},
	}
	for _, tt := range tests {
		if got := parseGID([]byte(tt.line)); got != tt.want {
			t.Errorf("parseGID(%q) = %d, want %d", tt.line, got, tt.want)
		}
	}
}
