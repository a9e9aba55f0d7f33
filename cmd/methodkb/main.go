// Package main provides the entry point for the methodkb CLI.
package main

import (
	"os"

	"github.com/raphaelgruber/methodkb/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
