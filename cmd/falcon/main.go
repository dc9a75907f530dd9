package main

import (
	"os"

	"github.com/falconhq/falcon/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
