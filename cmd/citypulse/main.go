// Package main is the entry point for the citypulse CLI.
package main

import (
	"os"

	"github.com/urbanpulse/citypulse/cmd/citypulse/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
