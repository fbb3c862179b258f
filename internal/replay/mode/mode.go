// Package mode holds the process-wide record/replay mode.
package mode

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Mode is the process-wide logging mode.
type Mode int32

const (
	// Off passes every operation straight to the underlying primitive.
	Off Mode = iota

	// Recording logs every operation.
	Recording

	// Replaying feeds every operation from the log.
	Replaying

	// ReplayAfterFork is observed by the first logging call in a forked
	// child. That call resets the inherited arena and settles into
	// Replaying.
	ReplayAfterFork
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case Off:
		return "off"
	case Recording:
		return "record"
	case Replaying:
		return "replay"
	case ReplayAfterFork:
		return "replay-after-fork"
	default:
		return fmt.Sprintf("mode(%d)", int32(m))
	}
}

// Logging reports whether operations in mode m touch the log.
func (m Mode) Logging() bool { return m != Off }

// Parse parses a mode name. ReplayAfterFork is internal and not accepted.
func Parse(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "off", "none":
		return Off, nil
	case "record", "recording":
		return Recording, nil
	case "replay", "replaying":
		return Replaying, nil
	default:
		return Off, fmt.Errorf("mode: unknown mode %q", s)
	}
}

// State is an atomically accessed Mode cell shared between the controller
// and the collaborator.
//
// Thread Safety: all methods are safe for concurrent use.
type State struct {
	v atomic.Int32
}

// NewState returns a State holding m.
func NewState(m Mode) *State {
	s := &State{}
	s.Store(m)
	return s
}

// Load returns the current mode.
func (s *State) Load() Mode { return Mode(s.v.Load()) }

// Store sets the mode.
func (s *State) Store(m Mode) { s.v.Store(int32(m)) }

// CompareAndSwap sets the mode to next if it is old.
func (s *State) CompareAndSwap(old, next Mode) bool {
	return s.v.CompareAndSwap(int32(old), int32(next))
}
