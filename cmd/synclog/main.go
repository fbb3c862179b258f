// Package main implements the synclog CLI tool.
//
// synclog inspects the event logs written by a recording run:
//
//	synclog recordings --store-dir .syncreplay        # List recordings
//	synclog threads -r <id>                           # List threads of a recording
//	synclog segments -r <id> -t 0.1                   # List a thread's segments
//	synclog dump -r <id> -t 0.1                       # Decode a thread's events
//	synclog version                                   # Show version information
//
// The store is selected with --store (file, sqlite) and --store-dir, or the
// SYNCREPLAY_STORE and SYNCREPLAY_STORE_DIR environment variables.
package main

import (
	"fmt"
	"os"
)

func main() {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(GetExitCode(err))
	}
}
