// Package commands implements the repoforge CLI subcommands.
package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// ExitError carries a process exit code out of a command. main inspects it
// with errors.As and exits with the embedded code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// toolVersion is stamped into composition reports and /health responses.
var toolVersion = "dev"

func version() string { return toolVersion }

// NewRootCmd builds the repoforge command tree.
func NewRootCmd(version string) *cobra.Command {
	toolVersion = version
	var logLevel string

	cmd := &cobra.Command{
		Use:   "repoforge",
		Short: "Manifest-driven repository composer",
		Long: `Repoforge composes complete system repositories from a JSON manifest
and a local template library, and runs the orchestration control plane.

It provides:
- Deterministic composition of backend, frontend, agent, and business templates
- A manifest validation and dispatch API for agent-driven scaffolding
- Disk-backed orchestration memory (state, decisions, telemetry)`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configureLogging(logLevel)
		},
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(newComposeCmd())
	cmd.AddCommand(newCatalogCmd())
	cmd.AddCommand(newMemoryCmd())
	cmd.AddCommand(newServeCmd(version))

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("repoforge version %s\n", version)
		},
	})

	return cmd
}

func configureLogging(logLevel string) {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}
