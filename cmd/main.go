package main

import (
	"os"

	"beatbattle-controller/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
