package main

import (
	"os"

	"github.com/calderaware/refinery/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
