package main

import (
	"os"

	"github.com/bgdnvk/coolctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
