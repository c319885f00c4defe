// ABOUTME: Main entry point for the koodous CLI
// ABOUTME: Initializes the cobra root command and executes it

package main

import (
	"os"
)

// Version information (set by ldflags).
var (
	version   = "dev"
	gitSHA    = "unknown"
	buildTime = "unknown"
)

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
