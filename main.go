package main

import (
	"os"

	"github.com/shuxueshuxue/gitdash/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
