package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/tariff-map/internal/source"
)

var (
	snapshotOut  string
	snapshotYear int
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Write the registry and joined metrics to a SQLite file",
	Long:  "Fetches every configured source once and stores the registry and the direct metric values in a SQLite database. Point store.snapshot_path at the file to serve the map without Postgres or the input files.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initMap(ctx, prometheus.NewRegistry())
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Session.RefreshWait(ctx, source.Params{Year: snapshotYear}); err != nil {
			zap.L().Warn("some sources failed, their metrics are left out of the snapshot", zap.Error(err))
		}

		lite, err := source.OpenSQLite(snapshotOut)
		if err != nil {
			return err
		}
		defer lite.Close() //nolint:errcheck

		if err := lite.Migrate(ctx); err != nil {
			return err
		}
		if err := lite.WriteSnapshot(ctx, env.Session.Registry(), env.Session.Result()); err != nil {
			return eris.Wrap(err, "write snapshot")
		}
		zap.L().Info("snapshot complete", zap.String("path", snapshotOut))
		return nil
	},
}

func init() {
	snapshotCmd.Flags().StringVarP(&snapshotOut, "out", "o", "tariff-map.db", "SQLite file to write")
	snapshotCmd.Flags().IntVar(&snapshotYear, "year", 0, "trade data year (default latest)")
	rootCmd.AddCommand(snapshotCmd)
}
