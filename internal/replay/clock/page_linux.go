//go:build linux

package clock

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// PageSize is the size of the shared clock mapping.
const PageSize = 4096

// pageMagic marks an initialized clock page ("SRCK").
const pageMagic = 0x4b435253

// Page layout:
//
//	offset 0  clock    uint64
//	offset 8  magic    uint32
//	offset 12 waiters  uint32
const (
	offClock   = 0
	offMagic   = 8
	offWaiters = 12
)

// futex operations; shared mappings need the non-private variants.
const (
	futexWait = 0
	futexWake = 1
)

// waitSlice bounds a single futex sleep so a wake-up lost across processes
// only delays a waiter instead of hanging it.
const waitSlice = 10 * time.Millisecond

// ErrBadPage is returned when a file does not hold an initialized clock page.
var ErrBadPage = errors.New("clock: file is not a clock page")

// Page is a Clock living in a MAP_SHARED file mapping.
//
// Every process mapping the same file observes the same counter. Waiters
// sleep on the low 32 bits of the counter with futex(2); increments issue a
// futex wake only when the waiter count is non-zero.
type Page struct {
	mem     []byte
	value   *atomic.Uint64
	waiters *atomic.Uint32
	futex   *uint32
}

// CreatePage creates (or truncates) the file at path, maps it and
// initializes a clock page starting at 0.
func CreatePage(path string) (*Page, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("clock: create page: %w", err)
	}
	defer f.Close()

	if err := f.Truncate(PageSize); err != nil {
		return nil, fmt.Errorf("clock: size page: %w", err)
	}

	p, err := mapPage(f)
	if err != nil {
		return nil, err
	}
	p.value.Store(0)
	p.waiters.Store(0)
	binary.LittleEndian.PutUint32(p.mem[offMagic:], pageMagic)
	return p, nil
}

// OpenPage maps an existing clock page created by CreatePage.
func OpenPage(path string) (*Page, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("clock: open page: %w", err)
	}
	defer f.Close()

	p, err := mapPage(f)
	if err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint32(p.mem[offMagic:]) != pageMagic {
		_ = p.Close()
		return nil, fmt.Errorf("%w: %s", ErrBadPage, path)
	}
	return p, nil
}

func mapPage(f *os.File) (*Page, error) {
	mem, err := unix.Mmap(int(f.Fd()), 0, PageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("clock: mmap page: %w", err)
	}

	//nolint:gosec // G103: the mapping is page aligned, so both cells are naturally aligned
	p := &Page{
		mem:     mem,
		value:   (*atomic.Uint64)(unsafe.Pointer(&mem[offClock])),
		waiters: (*atomic.Uint32)(unsafe.Pointer(&mem[offWaiters])),
	}
	p.futex = (*uint32)(unsafe.Pointer(&mem[offClock+lowWordOffset()]))
	return p, nil
}

// lowWordOffset returns the byte offset of the low 32 bits of a uint64.
func lowWordOffset() int {
	x := uint16(1)
	if *(*byte)(unsafe.Pointer(&x)) == 1 {
		return 0
	}
	return 4
}

// FetchAndIncrement implements Clock.
func (p *Page) FetchAndIncrement() uint64 {
	old := p.value.Add(1) - 1
	p.wake()
	return old
}

// Load implements Clock.
func (p *Page) Load() uint64 {
	return p.value.Load()
}

// Increment implements Clock.
func (p *Page) Increment() {
	p.value.Add(1)
	p.wake()
}

// WaitAtLeast implements Waiter.
func (p *Page) WaitAtLeast(target uint64) {
	p.waiters.Add(1)
	defer p.waiters.Add(^uint32(0))

	ts := unix.NsecToTimespec(int64(waitSlice))
	for {
		v := p.value.Load()
		if v >= target {
			return
		}
		// EAGAIN (value already moved), EINTR and ETIMEDOUT all mean re-check.
		_, _, _ = unix.Syscall6(unix.SYS_FUTEX,
			uintptr(unsafe.Pointer(p.futex)),
			futexWait,
			uintptr(uint32(v)),
			uintptr(unsafe.Pointer(&ts)),
			0, 0)
	}
}

func (p *Page) wake() {
	if p.waiters.Load() == 0 {
		return
	}
	_, _, _ = unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(p.futex)),
		futexWake,
		uintptr(1<<31-1),
		0, 0, 0)
}

// Close unmaps the page. The Page must not be used afterwards.
func (p *Page) Close() error {
	if p.mem == nil {
		return nil
	}
	err := unix.Munmap(p.mem)
	p.mem = nil
	if err != nil {
		return fmt.Errorf("clock: munmap page: %w", err)
	}
	return nil
}
