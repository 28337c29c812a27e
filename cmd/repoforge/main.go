// Package main provides the repoforge binary entry point.
// Repoforge composes complete system repositories from JSON manifests
// and a local template library, and serves the orchestration control
// plane for agent-driven scaffolding.
package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/c360studio/repoforge/commands"
)

const Version = "0.1.0"

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := commands.NewRootCmd(Version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)

		var ee *commands.ExitError
		if errors.As(err, &ee) {
			os.Exit(ee.Code)
		}
		os.Exit(1)
	}
}
