package main

import (
	"os"

	"github.com/thub/thub/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
