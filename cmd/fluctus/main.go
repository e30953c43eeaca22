package main

import (
	"os"

	"github.com/harskish/Fluctus/cmd/fluctus/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
