package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/sells-group/tariff-map/internal/identity"
)

var (
	resolveScheme  string
	resolveSuggest int
)

var resolveCmd = &cobra.Command{
	Use:   "resolve TOKEN...",
	Short: "Resolve country identifiers to ISO3",
	Long:  "Looks each token up in the identity registry built from the configured country and alias sources. Unresolved tokens list close matches to help extend the alias table.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initMap(cmd.Context(), prometheus.NewRegistry())
		if err != nil {
			return err
		}
		defer env.Close()

		formatResolutions(os.Stdout, env.Session.Registry(), identity.ParseScheme(resolveScheme), args, resolveSuggest)
		return nil
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolveScheme, "scheme", "auto", "token scheme: auto, iso3, numeric or name")
	resolveCmd.Flags().IntVar(&resolveSuggest, "suggest", 3, "close matches to list for unresolved tokens")
	rootCmd.AddCommand(resolveCmd)
}

// formatResolutions writes one row per token to out.
func formatResolutions(out io.Writer, reg *identity.Registry, scheme identity.Scheme, tokens []string, suggest int) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TOKEN\tISO3\tNAME\tNOTE")
	_, _ = fmt.Fprintln(w, "-----\t----\t----\t----")

	for _, raw := range tokens {
		tok := identity.Token{Scheme: scheme, Value: raw}
		iso3, ok := reg.Resolve(tok)
		if !ok {
			var names []string
			for _, s := range reg.Suggest(raw, suggest) {
				names = append(names, s.ISO3+" ("+s.Name+")")
			}
			note := "unresolved"
			if len(names) > 0 {
				note += "; did you mean " + strings.Join(names, ", ")
			}
			_, _ = fmt.Fprintf(w, "%s\t-\t-\t%s\n", raw, note)
			continue
		}

		c, _ := reg.Lookup(iso3)
		note := ""
		if c.Aggregate {
			note = fmt.Sprintf("aggregate of %d", len(reg.ExpandAggregate(iso3)))
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", raw, iso3, c.Name, note)
	}
	_ = w.Flush()
}
