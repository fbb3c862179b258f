// Package logdb stores the arena segments a recording produces.
//
// Every time a recording thread's arena fills up (and once more when the
// thread exits) the collaborator persists the bytes written since the last
// rewind as the thread's next Segment. Replay loads the same segments back,
// in sequence order, into the replaying thread's arena.
//
// Segments are grouped by recording id (a UUIDv7, see NewRecordingID) and by
// thread id. Three stores are provided:
//
//   - FileStore keeps one framed, CRC-checked, zstd-compressed file per
//     segment under <root>/<recording>/<thread>/<seq>.seg.
//   - SQLStore keeps the same frames in a single SQLite database.
//   - MemStore keeps segments in memory, for tests and in-process replays.
//
// Thread Safety: all stores are safe for concurrent use.
package logdb
