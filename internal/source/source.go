// Package source loads country identities, alias mappings and per-country
// metric sets from Postgres or from local and remote files.
package source

import (
	"context"
	"strconv"
	"strings"

	"github.com/sells-group/tariff-map/internal/identity"
	"github.com/sells-group/tariff-map/internal/metrics"
)

// Params narrows a metric fetch.
type Params struct {
	Reporter string // ISO3 of the reporting country, default USA
	Year     int    // 0 means the latest year the source has
}

// WithDefaults fills the zero fields.
func (p Params) WithDefaults() Params {
	if p.Reporter == "" {
		p.Reporter = "USA"
	}
	p.Reporter = strings.ToUpper(strings.TrimSpace(p.Reporter))
	return p
}

// CountrySource lists canonical identities.
type CountrySource interface {
	Countries(ctx context.Context) ([]identity.Country, error)
}

// AliasSource lists alternate token to ISO3 mappings.
type AliasSource interface {
	Aliases(ctx context.Context) (map[string]string, error)
}

// MetricSource produces one metric for many countries.
type MetricSource interface {
	// Key identifies the source in the store and in diagnostics.
	Key() string
	Metric() string
	Fetch(ctx context.Context, p Params) ([]metrics.Record, error)
}

// Tariff columns shared by the table and the CSV export.
const (
	ColReciprocal = "us_reciprocal_tariff"
	ColClaimed    = "trump_claimed_tariff"
)

// tariffMetric maps a tariff column to its metric name.
func tariffMetric(column string) string {
	if column == ColClaimed {
		return metrics.ClaimedTariff
	}
	return metrics.TariffRate
}

// parseValue reads an optional number. Blank and "null" are no data; a
// trailing percent sign is allowed.
func parseValue(s string) (*float64, error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if s == "" || strings.EqualFold(s, "null") || strings.EqualFold(s, "n/a") {
		return nil, nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
