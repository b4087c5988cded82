// Command optbench is the engineering optimization workbench: it samples
// designs of experiments, fits surrogates and runs optimizations, either
// from the command line or behind an HTTP server.
package main

import (
	"fmt"
	"os"

	apperr "github.com/copyleftdev/optbench/internal/errors"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "optbench: %s: %s\n", apperr.KindOf(err), apperr.MessageOf(err))
		os.Exit(1)
	}
}
