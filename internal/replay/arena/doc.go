// Package arena implements the per-thread log arena.
//
// An Arena is a private, zero-initialized memory region that holds the
// encoded records of exactly one thread, plus the small header the encoder
// and decoder keep between calls (write cursor, expected clock, open run
// length) and the two cells the collaborator may touch from outside the
// owning thread (ignore flag, pending fake call count).
//
// Memory Layout:
//
//	0                     End()            End()+Slack()     Size()
//	|--- usable log ---------|--- slack -------|--- page pad ---|
//
// Records are always written whole into Tail(). The slack past End() is
// sized to the largest single event, so a record that starts before End()
// never needs to be split. After each record the owner checks Full() and, if
// set, notifies the collaborator and calls Rewind().
//
// Thread Safety: only the owning thread may call the cursor and header
// methods. SetIgnore, Ignored, AddFakeCall and PendingFakeCalls are safe
// from any goroutine.
package arena
