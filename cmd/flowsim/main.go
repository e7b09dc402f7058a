// Package main is the entry point for the flowsim CLI.
package main

import (
	"fmt"
	"os"

	"popupflow/cmd/flowsim/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
