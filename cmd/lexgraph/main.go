// Command lexgraph runs the legal research assistant as an HTTP service, a
// one-shot CLI, or a memory-queue worker.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
