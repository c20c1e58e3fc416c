// Package main provides the thelook command.
package main

import (
	"os"

	"github.com/leapstack-labs/thelook/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
