package main

import (
	"os"

	"github.com/ayoubkefii/e-learning/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
