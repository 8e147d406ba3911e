// Command bondctl is the operator and investor CLI for a bondvault server.
// It signs write requests with a local key and prints responses as JSON.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
