package main

import (
	"os"

	"github.com/conductor-ai/conductor/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
