package main

import (
	"os"

	"github.com/spigell/apprentice/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
