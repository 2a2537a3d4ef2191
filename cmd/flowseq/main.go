package main

import (
	"os"

	"github.com/abramin/flowseq/cmd/flowseq/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
