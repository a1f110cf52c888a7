// Command memstore runs the memory store HTTP API and its lifecycle sweeps.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
