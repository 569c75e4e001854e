package main

import (
	"context"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/tariff-map/internal/db"
	"github.com/sells-group/tariff-map/internal/source"
)

var (
	importFile   string
	importOrigin string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load reference and tariff files into Postgres",
}

var importTariffsCmd = &cobra.Command{
	Use:   "tariffs",
	Short: "Upsert a tariff CSV or XLSX into tbl_trump_tariff",
	Long:  "Reads partner, claimed and reciprocal tariff columns. Rows without a reciprocal tariff are skipped; partners given only by name are resolved through the registry.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initImport(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		path, err := env.Localizer.Localize(ctx, importFile)
		if err != nil {
			return eris.Wrap(err, "localize tariff file")
		}
		rows, err := source.ReadTariffRows(ctx, path)
		if err != nil {
			return eris.Wrap(err, "read tariff file")
		}

		origin := importOrigin
		if origin == "" {
			origin = "CSV Import"
		}
		rep, err := source.ImportTariffs(ctx, env.Pool, env.Session.Registry(), rows, origin)
		if err != nil {
			return err
		}

		zap.L().Info("tariff import complete",
			zap.Int("rows", len(rows)),
			zap.Int64("written", rep.Written),
			zap.Strings("unresolved", rep.Unresolved),
			zap.String("file", importFile),
		)
		return nil
	},
}

var importCountriesCmd = &cobra.Command{
	Use:   "countries",
	Short: "Insert countries from a country_reference.json file into tbl_countries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		pool, err := importPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		countries, err := source.CountryFile{Ref: importFile, Loc: newLocalizer()}.Countries(ctx)
		if err != nil {
			return err
		}
		n, err := source.ImportCountries(ctx, pool, countries)
		if err != nil {
			return err
		}

		zap.L().Info("country import complete",
			zap.Int("read", len(countries)),
			zap.Int64("inserted", n),
		)
		return nil
	},
}

var importAliasesCmd = &cobra.Command{
	Use:   "aliases",
	Short: "Replace one source's rows in tbl_country_code_mapping",
	Long:  "Reads alternative_code and iso_alpha3 columns from a CSV or XLSX file. Existing mappings with the same source are replaced.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		pool, err := importPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		aliases, err := source.AliasFile{Ref: importFile, Loc: newLocalizer()}.Aliases(ctx)
		if err != nil {
			return err
		}
		origin := importOrigin
		if origin == "" {
			origin = filepath.Base(importFile)
		}
		n, err := source.ImportAliases(ctx, pool, aliases, origin)
		if err != nil {
			return err
		}

		zap.L().Info("alias import complete",
			zap.Int("read", len(aliases)),
			zap.Int64("written", n),
			zap.String("source", origin),
		)
		return nil
	},
}

func importPool(ctx context.Context) (*pgxpool.Pool, error) {
	if err := cfg.Validate("database"); err != nil {
		return nil, err
	}
	return db.Connect(ctx, cfg.Store.DatabaseURL, nil)
}

// initImport is initMap against the database, for imports that resolve
// names through the registry the tables already hold.
func initImport(ctx context.Context) (*mapEnv, error) {
	if err := cfg.Validate("database"); err != nil {
		return nil, err
	}
	return initMap(ctx, prometheus.NewRegistry())
}

func init() {
	for _, c := range []*cobra.Command{importTariffsCmd, importCountriesCmd, importAliasesCmd} {
		c.Flags().StringVar(&importFile, "file", "", "path or URL of the input file (required)")
		_ = c.MarkFlagRequired("file")
		importCmd.AddCommand(c)
	}
	importTariffsCmd.Flags().StringVar(&importOrigin, "source", "", "value for the source column (default \"CSV Import\")")
	importAliasesCmd.Flags().StringVar(&importOrigin, "source", "", "mapping source to replace (default file name)")
	rootCmd.AddCommand(importCmd)
}
