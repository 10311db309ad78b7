// Package main is the entry point for the fdwregress CLI.
package main

import (
	"os"

	"github.com/leapstack-labs/fdwregress/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
