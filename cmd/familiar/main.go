package main

import (
	"os"

	"github.com/lazypower/familiar/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
