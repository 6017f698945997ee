package main

import (
	"os"

	"github.com/ppiankov/postrelay/internal/cli"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	cli.Version = version
	cli.Commit = commit

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
