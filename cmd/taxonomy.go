package cmd

import (
	"context"
	"io"
	"os"

	"github.com/oppfinder/pipeline/internal/taxonomy"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var taxonomyCmd = &cobra.Command{
	Use:   "taxonomy",
	Short: "Manage opportunity types, domains, specializations and locations",
}

var taxonomyImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Import a taxonomy file. Existing rows are kept",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		ctx := context.Background()
		logger := newLogger()

		file, err := os.Open(args[0])
		if err != nil {
			logger.Fatal("opening taxonomy file", zap.Error(err))
		}
		defer file.Close()

		tf, err := taxonomy.Parse(file)
		if err != nil {
			logger.Fatal("parsing taxonomy file", zap.String("file", args[0]), zap.Error(err))
		}

		d := mustSetup(ctx, logger, false)
		defer d.close()

		var stats taxonomy.Stats
		err = d.store.InTx(ctx, func(ctx context.Context) error {
			stats, err = taxonomy.Import(ctx, d.store, tf, logger)
			return err
		})
		if err != nil {
			logger.Fatal("importing taxonomy", zap.Error(err))
		}
		logger.Info("taxonomy imported", zap.Int("created", stats.Created), zap.Int("existing", stats.Existing))
	},
}

var taxonomyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the stored taxonomy as YAML",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := context.Background()
		logger := newLogger()

		d := mustSetup(ctx, logger, false)
		defer d.close()

		tax, err := d.store.Taxonomy(ctx)
		if err != nil {
			logger.Fatal("loading taxonomy", zap.Error(err))
		}

		var out io.Writer = os.Stdout
		if path, _ := cmd.Flags().GetString("output"); path != "" {
			f, err := os.Create(path)
			if err != nil {
				logger.Fatal("creating output file", zap.Error(err))
			}
			defer f.Close()
			out = f
		}
		if err := taxonomy.FromTaxonomy(tax).Write(out); err != nil {
			logger.Fatal("writing taxonomy", zap.Error(err))
		}
	},
}

var taxonomyHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Report orphan or inconsistent taxonomy rows",
	Run: func(_ *cobra.Command, _ []string) {
		ctx := context.Background()
		logger := newLogger()

		d := mustSetup(ctx, logger, false)
		defer d.close()

		tax, err := d.store.Taxonomy(ctx)
		if err != nil {
			logger.Fatal("loading taxonomy", zap.Error(err))
		}

		problems := tax.Health()
		for _, p := range problems {
			logger.Warn("taxonomy problem", zap.String("kind", p.Kind), zap.Int64("id", p.ID), zap.String("problem", p.Msg))
		}
		if len(problems) > 0 {
			logger.Fatal("taxonomy is inconsistent", zap.Int("problems", len(problems)))
		}
		logger.Info("taxonomy is healthy")
	},
}

func init() {
	taxonomyExportCmd.Flags().StringP("output", "o", "", "write to a file instead of stdout")

	taxonomyCmd.AddCommand(taxonomyImportCmd, taxonomyExportCmd, taxonomyHealthCmd)
	rootCmd.AddCommand(taxonomyCmd)
}
