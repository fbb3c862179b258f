// Package clock implements the shared logical clock used to totally order
// logged synchronization events across threads.
//
// The clock is a single monotonically increasing counter. It is the only
// state in the record/replay core that more than one thread writes, and it
// is only ever touched through three atomic operations:
//
//   - FetchAndIncrement: used while recording to timestamp an event
//   - Load: used while replaying to decide whether a thread may proceed
//   - Increment: used while replaying to step past an event once it has run
//
// Two implementations are provided. Counter lives in process memory and is
// what tests and single-process replays use. Page lives in a file-backed
// shared mapping so that a privileged collaborator (or a second process)
// can observe and wait on the same cell.
//
// Both implementations also satisfy Waiter, the capability a collaborator
// uses to suspend a thread until the clock reaches a target value.
package clock
