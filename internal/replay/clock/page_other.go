//go:build !linux

package clock

import "errors"

// PageSize is the size of the shared clock mapping.
const PageSize = 4096

// ErrBadPage is returned when a file does not hold an initialized clock page.
var ErrBadPage = errors.New("clock: file is not a clock page")

var errNoPage = errors.New("clock: shared clock pages need futex(2) and are only supported on linux")

// Page is unavailable on this platform.
type Page struct{}

// CreatePage always fails on this platform.
func CreatePage(string) (*Page, error) { return nil, errNoPage }

// OpenPage always fails on this platform.
func OpenPage(string) (*Page, error) { return nil, errNoPage }

func (p *Page) FetchAndIncrement() uint64 { return 0 }
func (p *Page) Load() uint64              { return 0 }
func (p *Page) Increment()                {}
func (p *Page) WaitAtLeast(uint64)        {}
func (p *Page) Close() error              { return nil }
