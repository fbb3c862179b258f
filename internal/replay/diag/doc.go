// Package diag provides the diagnostics shared by the recorder and the
// replayer: logger construction, caller-context capture for mismatch
// reports, and the process-fatal path.
//
// Every fatal condition in replay (a record that does not match the call
// being replayed, an arena that cannot be mapped, a collaborator that cannot
// provide a clock) ends in Fatal. Fatal logs through zap and then calls the
// exit hook, which is os.Exit outside tests.
//
// Example:
//
//	lg, _ := diag.NewLogger(cfg.Debug)
//	defer lg.Sync()
//	if err := rt.Init(); err != nil {
//	    diag.Fatal(lg, diag.ExitSetup, "replay setup failed", err)
//	}
package diag
