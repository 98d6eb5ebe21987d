// Package main is the entry point for the ojitoo-frames CLI.
//
// The binary deploys the frame analysis service on a host and, inside the
// container, runs the service itself. All functionality lives in the
// internal/cli package, which defines the cobra commands.
//
// Build-time variables (version, commit, date) are injected via ldflags.
// During development they default to "dev", "none" and "unknown".
package main

import (
	"github.com/ojitoo/ojitoo-frames/internal/cli"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.Version = version
	cli.Commit = commit
	cli.Date = date

	cli.Execute(cli.NewRootCommand())
}
