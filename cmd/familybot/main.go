package main

import (
	"os"

	"github.com/alexmontesino96/familybot/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
