// daftar is a governed long-term memory engine for conversational
// assistants. All writes flow through a deterministic policy engine;
// retrieval is rate-limited and strictly user-scoped.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
