package main

import (
	"os"

	"github.com/adalundhe/envolve/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(cmd.ExitCode(err))
	}
}
