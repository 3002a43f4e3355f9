// Package main provides the entry point for the spritegate server.
package main

import (
	"fmt"
	"os"

	"github.com/sprite-ai/spritegate/cmd/spritegate/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
