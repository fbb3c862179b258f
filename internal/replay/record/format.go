package record

import (
	"fmt"
	"strings"
)

// Format selects the record encoding used by an arena.
type Format uint8

const (
	// Compact is the run-length compressed encoding. It is the default.
	Compact Format = iota

	// Verbose stores one fixed-size tuple per event and lets replay check
	// the operation identity of every event.
	Verbose
)

// String returns the lower-case format name.
func (f Format) String() string {
	switch f {
	case Compact:
		return "compact"
	case Verbose:
		return "verbose"
	default:
		return fmt.Sprintf("format(%d)", uint8(f))
	}
}

// ParseFormat parses a format name as produced by String. The empty string
// selects Compact.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "compact":
		return Compact, nil
	case "verbose", "debug":
		return Verbose, nil
	default:
		return 0, fmt.Errorf("record: unknown format %q", s)
	}
}

// Compact tag word layout.
const (
	// RunMask selects the run length bits of a compact tag.
	RunMask uint32 = 0x0FFFFFFF

	// FlagNonzeroRetval announces a 32-bit return value word.
	FlagNonzeroRetval uint32 = 1 << 31

	// FlagFakeCalls announces a 32-bit fake call count word.
	FlagFakeCalls uint32 = 1 << 30

	// FlagSkippedClock announces a 64-bit clock skip word.
	FlagSkippedClock uint32 = 1 << 29

	flagMask = FlagNonzeroRetval | FlagFakeCalls | FlagSkippedClock
)

// Encoded sizes.
const (
	// CompactMaxSize is the size of a compact record with every optional
	// word present.
	CompactMaxSize = 4 + 8 + 4 + 4

	// VerboseSize is the size of one verbose record.
	VerboseSize = 8 + 4 + 8 + 8
)

// MaxRecordSize returns the largest single record in format f. Arenas
// reserve this much slack past their end so a record is always written whole
// before wraparound is checked.
func MaxRecordSize(f Format) int {
	if f == Verbose {
		return VerboseSize
	}
	return CompactMaxSize
}
