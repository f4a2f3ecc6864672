package main

import (
	"os"

	"github.com/kyleking/datadict-search/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
