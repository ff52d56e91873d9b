// liveedit server and maintenance commands
package main

import (
	"os"

	"github.com/jonny5532/wagtail-liveedit/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
