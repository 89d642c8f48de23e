package main

import (
	"fmt"
	"os"

	"github.com/nanshuiyu/pytools/commands"
)

func main() {
	cmd := commands.NewRootCmd("ptvsdbg")
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}
