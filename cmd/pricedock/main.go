// Package main provides the entry point for the pricedock CLI.
package main

import (
	"fmt"
	"os"

	"github.com/pricedock/pricedock/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
