// Command replayctl drives one replay+strategy run from the command
// line: it opens a columnar dataset, validates its manifest, runs a
// Strategy through the Strategy Runtime to completion, and archives
// the terminal Run Manifest.
package main

import (
	"io"
	"os"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the testable entrypoint: args mirrors os.Args, stdout/stderr
// let tests capture output without touching the real streams.
func Run(args []string, stdout, stderr io.Writer) int {
	return runReplayCmd(args[1:], stdout, stderr)
}
