// Command tachyonctl is the headless CLI front-end for Project
// Tachyon, grounded on the teacher's cmd/ convention (a single
// standalone main package per binary, see cmd/builder) and on the
// Azure/azcopy and TeraFetch example repos' cobra-based download CLI
// shape (root command plus verb subcommands, persistent flags for
// connection details).
package main

import (
	"fmt"
	"os"

	"project-tachyon/cmd/tachyonctl/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
