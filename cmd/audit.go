package main

import (
	"cmp"
	"fmt"
	"io"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/tariff-map/internal/identity"
	"github.com/sells-group/tariff-map/internal/metrics"
	"github.com/sells-group/tariff-map/internal/source"
)

var (
	auditReporter string
	auditYear     int
	auditStrict   bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Fetch every metric source and report identifiers that did not join",
	Long:  "Runs one refresh of all metric sources and lists the records dropped because their country identifier did not resolve, with close matches from the registry.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initMap(ctx, prometheus.NewRegistry())
		if err != nil {
			return err
		}
		defer env.Close()

		params := source.Params{Reporter: auditReporter, Year: auditYear}
		if err := env.Session.RefreshWait(ctx, params); err != nil {
			zap.L().Warn("some sources failed", zap.Error(err))
		}

		res := env.Session.Result()
		formatUnmatched(os.Stdout, env.Session.Registry(), res.Unmatched)
		if len(res.Absent) > 0 {
			zap.L().Warn("metrics absent after refresh", zap.Strings("metrics", res.Absent))
		}

		if auditStrict && (len(res.Unmatched) > 0 || len(res.Absent) > 0) {
			return eris.Errorf("audit: %d unmatched records, %d absent metrics", res.UnmatchedTotal(), len(res.Absent))
		}
		return nil
	},
}

func init() {
	auditCmd.Flags().StringVar(&auditReporter, "reporter", "", "reporting country for trade data (default from config)")
	auditCmd.Flags().IntVar(&auditYear, "year", 0, "trade data year (default latest)")
	auditCmd.Flags().BoolVar(&auditStrict, "strict", false, "exit non-zero when anything failed to join")
	rootCmd.AddCommand(auditCmd)
}

// formatUnmatched writes unmatched tokens, most frequent first.
func formatUnmatched(out io.Writer, reg *identity.Registry, unmatched []metrics.Unmatched) {
	if len(unmatched) == 0 {
		_, _ = fmt.Fprintln(out, "every record joined")
		return
	}

	rows := slices.Clone(unmatched)
	slices.SortFunc(rows, func(a, b metrics.Unmatched) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Or(cmp.Compare(a.Source, b.Source), cmp.Compare(a.Token, b.Token))
	})

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tTOKEN\tCOUNT\tSUGGESTION")
	_, _ = fmt.Fprintln(w, "------\t-----\t-----\t----------")
	for _, u := range rows {
		hint := "-"
		if s := reg.Suggest(u.Token, 1); len(s) > 0 {
			hint = s[0].ISO3 + " (" + s[0].Name + ")"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", u.Source, u.Token, u.Count, hint)
	}
	_ = w.Flush()
}
