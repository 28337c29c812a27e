package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360studio/repoforge/catalog"
	"github.com/c360studio/repoforge/engine"
	"github.com/c360studio/repoforge/manifest"
)

func newComposeCmd() *cobra.Command {
	var (
		manifestPath string
		outputRoot   string
		templateRoot string
		dryRun       bool
		overwrite    bool
		timeoutSecs  int
	)

	cmd := &cobra.Command{
		Use:   "compose",
		Short: "Compose a system repository from a manifest",
		Long: `Compose reads a JSON manifest, resolves templates from the local
library, and writes the composed system tree under the output directory.

Exit codes distinguish failure classes: 1 invalid manifest or name
collision, 2 unknown template or dependency cycle, 3 filesystem fault,
4 timeout, 5 post-verify failure.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompose(manifestPath, templateRoot, outputRoot, dryRun, overwrite, timeoutSecs)
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "Manifest JSON file (required)")
	cmd.Flags().StringVarP(&outputRoot, "output", "o", "out", "Output directory")
	cmd.Flags().StringVar(&templateRoot, "template-root", "templates", "Template library root")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Plan without writing anything")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing output tree")
	cmd.Flags().IntVar(&timeoutSecs, "timeout", 0, "Composition timeout in seconds (0 = default)")
	_ = cmd.MarkFlagRequired("manifest")

	return cmd
}

func runCompose(manifestPath, templateRoot, outputRoot string, dryRun, overwrite bool, timeoutSecs int) error {
	logger := slog.Default()

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return &ExitError{Code: engine.KindFilesystemFault.ExitCode(),
			Err: fmt.Errorf("read manifest: %w", err)}
	}

	m, err := manifest.Parse(data)
	if err != nil {
		return &ExitError{Code: engine.KindManifestInvalid.ExitCode(),
			Err: fmt.Errorf("parse manifest: %w", err)}
	}

	cat, err := catalog.Load(templateRoot, logger)
	if err != nil {
		return &ExitError{Code: engine.KindFilesystemFault.ExitCode(),
			Err: fmt.Errorf("load template library: %w", err)}
	}

	eng := engine.New(cat, logger, version())
	if timeoutSecs > 0 {
		eng.SetTimeout(time.Duration(timeoutSecs) * time.Second)
	}

	report, err := eng.Compose(context.Background(), m, engine.Options{
		OutputRoot: outputRoot,
		DryRun:     dryRun,
		Overwrite:  overwrite,
	})
	if err != nil {
		return &ExitError{Code: engine.KindOf(err).ExitCode(), Err: err}
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
