package main

import (
	"os"

	"github.com/solatis/cascade/cmd/cascade/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
