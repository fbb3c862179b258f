package diag

import (
	"os"
	"sync"

	"go.uber.org/zap"
)

// Exit codes used by Fatal.
const (
	// ExitSetup: the collaborator could not provide the clock or mode.
	ExitSetup = 2

	// ExitMismatch: a replayed call did not match the log.
	ExitMismatch = 3

	// ExitAlloc: an arena could not be allocated.
	ExitAlloc = 4

	// ExitLog: the log could not be written or read.
	ExitLog = 5
)

var (
	exitMu   sync.Mutex
	exitHook = os.Exit
)

// SetExitHook replaces the function Fatal calls after logging and returns a
// function restoring the previous hook. Tests use it to observe fatal paths
// without terminating.
func SetExitHook(fn func(code int)) (restore func()) {
	exitMu.Lock()
	prev := exitHook
	exitHook = fn
	exitMu.Unlock()
	return func() {
		exitMu.Lock()
		exitHook = prev
		exitMu.Unlock()
	}
}

// Fatal logs msg and err at error level, flushes lg and terminates with
// code through the exit hook.
func Fatal(lg *zap.Logger, code int, msg string, err error, fields ...zap.Field) {
	lg = OrNop(lg)
	fields = append(fields, zap.Error(err), zap.Int("exit_code", code))
	lg.Error(msg, fields...)
	_ = lg.Sync()

	exitMu.Lock()
	hook := exitHook
	exitMu.Unlock()
	hook(code)
}
