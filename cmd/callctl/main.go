package main

import (
	"os"

	"callsync/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
