package main

import (
	"os"

	"github.com/alchemlab/abfe/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
