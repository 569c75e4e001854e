package main

import (
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/tariff-map/internal/geography"
	"github.com/sells-group/tariff-map/internal/session"
	"github.com/sells-group/tariff-map/internal/source"
)

var (
	renderOut    string
	renderMetric string
	renderYear   int
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Write the boundaries as GeoJSON filled by one metric",
	Long:  "Fetches every metric source once, then writes files.boundaries as a FeatureCollection whose features carry iso3, fill and the joined metric values.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.Files.Boundaries == "" {
			return eris.New("files.boundaries is required (TARIFFMAP_FILES_BOUNDARIES)")
		}

		env, err := initMap(ctx, prometheus.NewRegistry())
		if err != nil {
			return err
		}
		defer env.Close()

		if renderMetric != "" {
			if err := env.Session.SetActiveMetric(renderMetric); err != nil {
				return err
			}
		}

		features, err := loadBoundaries(ctx, env.Localizer)
		if err != nil {
			return err
		}
		if err := env.Session.RefreshWait(ctx, source.Params{Year: renderYear}); err != nil {
			zap.L().Warn("some sources failed, their metric renders missing", zap.Error(err))
		}

		var out io.Writer = os.Stdout
		if renderOut != "" && renderOut != "-" {
			f, err := os.Create(renderOut)
			if err != nil {
				return eris.Wrap(err, "create output")
			}
			defer f.Close() //nolint:errcheck
			out = f
		}

		if err := geography.WriteGeoJSON(out, features, fillStyler(env.Session)); err != nil {
			return err
		}
		zap.L().Info("render complete",
			zap.Int("features", len(features)),
			zap.String("metric", env.Session.ActiveMetric()),
			zap.Int("unmatched", env.Session.Result().UnmatchedTotal()),
		)
		return nil
	},
}

// fillStyler adds iso3, fill and every joined metric value to a feature.
func fillStyler(sess *session.Session) geography.Styler {
	reg := sess.Registry()
	res := sess.Result()
	return func(f geography.Feature) map[string]any {
		props := map[string]any{"fill": sess.GetFillColor(f.ID)}
		iso3, ok := reg.Resolve(f.ID)
		if !ok {
			return props
		}
		props["iso3"] = iso3
		if rec := res.Record(iso3); rec != nil {
			for metric, v := range rec.Values() {
				props[metric] = v
			}
		}
		return props
	}
}

func init() {
	renderCmd.Flags().StringVarP(&renderOut, "out", "o", "", "output file (default stdout)")
	renderCmd.Flags().StringVar(&renderMetric, "metric", "", "metric to fill by (default map.active_metric)")
	renderCmd.Flags().IntVar(&renderYear, "year", 0, "trade data year (default latest)")
	rootCmd.AddCommand(renderCmd)
}
