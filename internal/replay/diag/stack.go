package diag

import (
	"fmt"
	"runtime"
	"strings"
)

// MaxFrames is the maximum number of caller frames kept in a Stack.
const MaxFrames = 16

// Stack is a captured caller context.
type Stack []uintptr

// Capture records the caller context of the function that calls Capture,
// skipping skip additional frames.
func Capture(skip int) Stack {
	var pcs [MaxFrames]uintptr
	// runtime.Callers, Capture
	n := runtime.Callers(skip+2, pcs[:])
	if n == 0 {
		return nil
	}
	st := make(Stack, n)
	copy(st, pcs[:n])
	return st
}

// internalFrame reports whether fn belongs to the runtime or to the event
// log. Such frames are dropped from reports.
func internalFrame(fn string) bool {
	return strings.HasPrefix(fn, "runtime.") ||
		strings.Contains(fn, "/internal/replay/eventlog.")
}

// Frames returns the function names of the non-internal frames.
func (st Stack) Frames() []string {
	if len(st) == 0 {
		return nil
	}
	var out []string
	frames := runtime.CallersFrames(st)
	for {
		frame, more := frames.Next()
		if frame.Function != "" && !internalFrame(frame.Function) {
			out = append(out, frame.Function)
		}
		if !more {
			break
		}
	}
	return out
}

// String formats the stack in the layout of a goroutine traceback:
//
//	main.worker()
//	    /path/to/file.go:45 +0x3b
func (st Stack) String() string {
	if len(st) == 0 {
		return "  (no caller context captured)\n"
	}

	var buf strings.Builder
	frames := runtime.CallersFrames(st)
	for {
		frame, more := frames.Next()
		if frame.Function != "" && !internalFrame(frame.Function) {
			fmt.Fprintf(&buf, "  %s()\n", frame.Function)
			fmt.Fprintf(&buf, "      %s:%d +0x%x\n", frame.File, frame.Line, frame.PC-frame.Entry)
		}
		if !more {
			break
		}
	}

	if buf.Len() == 0 {
		return "  (runtime internal)\n"
	}
	return buf.String()
}
