package main

import (
	"os"

	"github.com/porticohq/portico/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
