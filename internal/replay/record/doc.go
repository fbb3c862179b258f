// Package record defines the on-arena encodings of logged synchronization
// events.
//
// Two encodings exist and a deployment picks exactly one per arena:
//
//   - Compact: a 32-bit tag word followed by optional words. The tag carries
//     the number of "boring" events (zero return value, no clock skip, no
//     pending fake calls) that precede this record, plus three flag bits
//     announcing which optional words follow.
//   - Verbose: one fixed-size tuple per event holding the absolute clock
//     value, the return value, the event tag and the identity key.
//
// Compact layout (little-endian):
//
//	+--------+-----------------+----------------+-----------------+
//	| tag u32| skip u64        | retval i32     | fake calls u32  |
//	|        | if SkippedClock | if NonzeroRet  | if FakeCalls    |
//	+--------+-----------------+----------------+-----------------+
//
// Verbose layout (little-endian, 28 bytes):
//
//	+-----------+------------+---------+-----------+
//	| clock u64 | retval i32 | tag u64 | check u64 |
//	+-----------+------------+---------+-----------+
//
// A zero tag (compact) or a zero event tag (verbose) marks the end of the
// data currently available in the arena.
//
// Records are encoded through Writer and decoded through Reader, which are
// bounds-checked cursors over a byte slice. Neither type knows about arenas
// or clocks; package eventlog drives them.
package record
