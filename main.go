package main

import (
	"os"

	"github.com/projecteru2/pupa/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
