package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kyrt-project/courtcrawler/internal/importer"
)

// newImportCmd creates the 'import' subcommand, which loads tracked
// companies from a CSV file into the store.
func newImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Imports tracked companies from a CSV file",
		Long: `Reads a CSV file and upserts one tracked company per row. The first
column is the canonical company name; any further columns are treated as
name aliases to search under.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("open companies file: %w", err)
			}
			defer f.Close()

			count, err := importer.ImportCSV(cmd.Context(), appInstance.GetStore(), f, appInstance.GetLogger())
			if err != nil {
				return fmt.Errorf("import companies: %w", err)
			}
			cmd.Printf("Imported %d companies\n", count)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "path to the companies CSV file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
