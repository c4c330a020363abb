package main

import (
	"os"

	"github.com/Fuabioo/schemadoc/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
