package eventlog

import (
	"fmt"
	"io"
	"strings"

	"github.com/kolkov/syncreplay/internal/replay/diag"
	"github.com/kolkov/syncreplay/internal/replay/record"
)

// MismatchError reports a replayed call that is not the call recorded at
// this point of the thread's history.
type MismatchError struct {
	Thread string
	Clock  uint64

	LogTag   record.Tag
	LogCheck uint64

	CallTag   record.Tag
	CallCheck uint64

	// Stack is the caller context of the replayed call.
	Stack diag.Stack
}

// Error implements error.
func (e *MismatchError) Error() string {
	return fmt.Sprintf("eventlog: replay mismatch in thread %s: log record at clock %d has %v check %#x, called with %v check %#x",
		e.Thread, e.Clock, e.LogTag, e.LogCheck, e.CallTag, e.CallCheck)
}

// WriteReport writes a multi-line report:
//
//	==================
//	REPLAY MISMATCH in thread 0.1
//	Log record at clock 12: mutex_lock/enter check 0x1f
//	Replayed call:          mutex_unlock/enter check 0x1f
//	  main.worker()
//	      /path/to/file.go:45 +0x3b
//	==================
//
//nolint:errcheck // best-effort diagnostic output
func (e *MismatchError) WriteReport(w io.Writer) {
	fmt.Fprintf(w, "==================\n")
	fmt.Fprintf(w, "REPLAY MISMATCH in thread %s\n", e.Thread)
	fmt.Fprintf(w, "Log record at clock %d: %v check %#x\n", e.Clock, e.LogTag, e.LogCheck)
	fmt.Fprintf(w, "Replayed call:          %v check %#x\n", e.CallTag, e.CallCheck)
	fmt.Fprint(w, e.Stack.String())
	fmt.Fprintf(w, "==================\n")
}

// Report returns the WriteReport output as a string.
func (e *MismatchError) Report() string {
	var buf strings.Builder
	e.WriteReport(&buf)
	return buf.String()
}
