// Package main is the amanfind entry point.
package main

import (
	"os"

	"github.com/Aman-CERP/amanfind/cmd/amanfind/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
