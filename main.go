package main

import (
	"fmt"
	"os"

	"edit-text-server/internal/cli"
)

// Version information set by ldflags during build
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	cli.SetVersionInfo(Version, GitCommit, BuildTime)
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "edit-text-server: %v\n", err)
		os.Exit(1)
	}
}
