// Package main is the entry point for the slipstream CLI.
package main

import (
	"os"

	"github.com/jmylchreest/slipstream/cmd/slipstream/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
