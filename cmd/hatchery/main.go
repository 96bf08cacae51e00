// Package main is the entry point for the hatchery server.
//
// hatchery is a bare-metal provisioning orchestrator. It composes
// declarative capability bundles (eggs) into cloud-init payloads, drives
// deployments through a MAAS-compatible backend, tracks machine lifecycle
// state, and manages the OS image catalog end to end.
//
// For detailed usage information, run:
//
//	hatchery --help
package main

import (
	"fmt"
	"os"

	"github.com/hatchery-sh/hatchery/cmd/hatchery/commands"
)

// Version information set by goreleaser at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)
	if err := commands.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
