package main

import (
	"os"

	"hopper/cmd/hpr/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
