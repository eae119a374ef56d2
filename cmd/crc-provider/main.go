// Package main implements the CRC provider.
//
// The provider tracks a local CodeReady Containers cluster through the CRC
// daemon and exposes it to local tooling. "crc-provider serve" runs it as a
// long-lived process with an HTTP API (default localhost:8766); the other
// commands run a single lifecycle operation in-process and prompt on the
// terminal when they need input.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
