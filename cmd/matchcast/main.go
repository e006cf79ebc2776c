// Package main is the entry point for matchcast.
package main

import (
	"os"

	"github.com/jmylchreest/matchcast/cmd/matchcast/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
