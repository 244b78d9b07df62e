package main

import (
	"os"

	"github.com/averlard/custos/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
