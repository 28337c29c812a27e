package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/c360studio/repoforge/catalog"
)

func newCatalogCmd() *cobra.Command {
	var templateRoot string

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the template library",
	}
	cmd.PersistentFlags().StringVar(&templateRoot, "template-root", "templates", "Template library root")

	list := &cobra.Command{
		Use:   "list",
		Short: "List templates by category",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := catalog.Load(templateRoot, slog.Default())
			if err != nil {
				return fmt.Errorf("load template library: %w", err)
			}

			type entry struct {
				Slug        string `json:"slug"`
				Description string `json:"description,omitempty"`
				Version     string `json:"version,omitempty"`
			}
			out := map[string]any{
				"catalog_version": cat.Snapshot(),
				"total":           cat.Len(),
			}
			categories := map[string][]entry{}
			for _, c := range catalog.Categories {
				for _, d := range cat.Templates(c) {
					categories[c.String()] = append(categories[c.String()], entry{
						Slug:        d.Slug,
						Description: d.Description,
						Version:     d.Version,
					})
				}
			}
			out["categories"] = categories

			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate every descriptor in the library",
		Long: `Validate loads the library the same way compose does and reports the
descriptor count. Directories with malformed template.json files are
logged as warnings and skipped; an unreadable library root is an error.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := catalog.Load(templateRoot, slog.Default())
			if err != nil {
				return fmt.Errorf("load template library: %w", err)
			}
			fmt.Printf("catalog ok: %d template(s), version %s\n", cat.Len(), cat.Snapshot())
			return nil
		},
	}

	cmd.AddCommand(list, validate)
	return cmd
}
