package main

import (
	"os"

	"github.com/fxlake/tickpipe/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
