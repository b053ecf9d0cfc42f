// Package main provides the entry point for the citegrep CLI.
package main

import (
	"os"

	"github.com/citegrep/citegrep/cmd/citegrep/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
