package source

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tariff-map/internal/fetcher"
	"github.com/sells-group/tariff-map/internal/identity"
	"github.com/sells-group/tariff-map/internal/metrics"
)

// Localizer turns a file reference, possibly a URL, into a local path.
// *fetcher.Localizer implements it.
type Localizer interface {
	Localize(ctx context.Context, ref string) (string, error)
}

type passthrough struct{}

func (passthrough) Localize(_ context.Context, ref string) (string, error) { return ref, nil }

func localize(ctx context.Context, loc Localizer, ref string) (string, time.Time, error) {
	if loc == nil {
		loc = passthrough{}
	}
	path, err := loc.Localize(ctx, ref)
	if err != nil {
		return "", time.Time{}, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return "", time.Time{}, eris.Wrapf(err, "source: stat %s", path)
	}
	return path, fi.ModTime().UTC(), nil
}

// countryRef is one entry of a country_reference.json file.
type countryRef struct {
	ID          int     `json:"id"`
	ISO3        string  `json:"iso3_code"`
	Name        string  `json:"name"`
	TradeRegion *string `json:"trade_region"`
}

// CountryFile reads a JSON array of {id, iso3_code, name, trade_region}.
// The id is the numeric scheme the boundary data is keyed by.
type CountryFile struct {
	Ref string
	Loc Localizer
}

// Countries implements CountrySource.
func (f CountryFile) Countries(ctx context.Context) ([]identity.Country, error) {
	path, _, err := localize(ctx, f.Loc, f.Ref)
	if err != nil {
		return nil, err
	}
	r, err := os.Open(path) //nolint:gosec
	if err != nil {
		return nil, eris.Wrapf(err, "source: open %s", path)
	}
	defer r.Close() //nolint:errcheck

	refs, err := fetcher.ReadJSONArray[countryRef](ctx, r)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read %s", path)
	}
	out := make([]identity.Country, 0, len(refs))
	for _, ref := range refs {
		c := identity.Country{ISO3: ref.ISO3, NumericID: ref.ID, Name: ref.Name}
		if ref.TradeRegion != nil {
			c.TradeRegion = *ref.TradeRegion
		}
		out = append(out, c)
	}
	return out, nil
}

// AliasFile reads a CSV or XLSX table with an alternate code column and an
// ISO3 column.
type AliasFile struct {
	Ref string
	Loc Localizer
}

// Aliases implements AliasSource.
func (f AliasFile) Aliases(ctx context.Context) (map[string]string, error) {
	path, _, err := localize(ctx, f.Loc, f.Ref)
	if err != nil {
		return nil, err
	}
	tbl, err := fetcher.ReadTable(ctx, path)
	if err != nil {
		return nil, err
	}
	alt := tbl.Col("alternative_code", "alias", "code")
	iso := tbl.Col("iso_alpha3", "iso3_code", "iso3")
	if alt < 0 || iso < 0 {
		return nil, eris.Errorf("source: %s needs alternative_code and iso_alpha3 columns", f.Ref)
	}

	out := make(map[string]string, len(tbl.Rows))
	for _, row := range tbl.Rows {
		a, i := fetcher.Get(row, alt), fetcher.Get(row, iso)
		if a == "" || i == "" {
			continue
		}
		out[a] = i
	}
	return out, nil
}

// TariffRow is one row of the tariff export.
type TariffRow struct {
	PartnerISO3 string
	PartnerName string
	Claimed     *float64
	Reciprocal  *float64
}

// ReadTariffRows reads a tariff CSV or XLSX with partner_name (or
// partner_iso3), trump_claimed_tariff and us_reciprocal_tariff columns.
// Rows without a reciprocal rate and rows with unparseable numbers are
// skipped.
func ReadTariffRows(ctx context.Context, path string) ([]TariffRow, error) {
	tbl, err := fetcher.ReadTable(ctx, path)
	if err != nil {
		return nil, err
	}
	iso := tbl.Col("partner_iso3", "iso3_code")
	name := tbl.Col("partner_name", "country", "name")
	claimed := tbl.Col(ColClaimed)
	reciprocal := tbl.Col(ColReciprocal)
	if (iso < 0 && name < 0) || reciprocal < 0 {
		return nil, eris.Errorf("source: %s needs partner_name and %s columns", path, ColReciprocal)
	}

	log := zap.L().With(zap.String("component", "source"), zap.String("file", path))
	var out []TariffRow
	for i, row := range tbl.Rows {
		r := TariffRow{PartnerISO3: fetcher.Get(row, iso), PartnerName: fetcher.Get(row, name)}
		if r.PartnerISO3 == "" && r.PartnerName == "" {
			continue
		}
		if r.Reciprocal, err = parseValue(fetcher.Get(row, reciprocal)); err != nil {
			log.Warn("source: skipping row with bad reciprocal tariff", zap.Int("row", i+2), zap.Error(err))
			continue
		}
		if r.Reciprocal == nil {
			continue
		}
		if r.Claimed, err = parseValue(fetcher.Get(row, claimed)); err != nil {
			log.Warn("source: skipping row with bad claimed tariff", zap.Int("row", i+2), zap.Error(err))
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// TariffFile serves one column of a tariff export as a metric.
type TariffFile struct {
	Ref    string
	Column string // ColReciprocal or ColClaimed
	Loc    Localizer
}

// Key implements MetricSource.
func (f TariffFile) Key() string { return tariffMetric(f.Column) }

// Metric implements MetricSource.
func (f TariffFile) Metric() string { return tariffMetric(f.Column) }

// Fetch implements MetricSource.
func (f TariffFile) Fetch(ctx context.Context, _ Params) ([]metrics.Record, error) {
	path, asOf, err := localize(ctx, f.Loc, f.Ref)
	if err != nil {
		return nil, err
	}
	rows, err := ReadTariffRows(ctx, path)
	if err != nil {
		return nil, err
	}
	out := make([]metrics.Record, 0, len(rows))
	for _, r := range rows {
		iso3, name := r.PartnerISO3, r.PartnerName
		tok, _ := partnerToken(&iso3, &name)
		v := r.Reciprocal
		if f.Column == ColClaimed {
			v = r.Claimed
		}
		out = append(out, metrics.Record{Country: tok, Value: v, AsOf: asOf, Source: f.Key()})
	}
	return out, nil
}

// DeficitFile reads a trade balance export with partner_iso3,
// trade_balance_thousands and optional year and reporter_iso3 columns.
type DeficitFile struct {
	Ref string
	Loc Localizer
}

// Key implements MetricSource.
func (f DeficitFile) Key() string { return metrics.Deficit }

// Metric implements MetricSource.
func (f DeficitFile) Metric() string { return metrics.Deficit }

// Fetch implements MetricSource. A zero Params.Year selects the latest year
// present for the reporter.
func (f DeficitFile) Fetch(ctx context.Context, params Params) ([]metrics.Record, error) {
	params = params.WithDefaults()
	path, modTime, err := localize(ctx, f.Loc, f.Ref)
	if err != nil {
		return nil, err
	}
	tbl, err := fetcher.ReadTable(ctx, path)
	if err != nil {
		return nil, err
	}
	partner := tbl.Col("partner_iso3")
	balance := tbl.Col("trade_balance_thousands", "deficit_thousands")
	yearCol := tbl.Col("year")
	reporter := tbl.Col("reporter_iso3")
	if partner < 0 || balance < 0 {
		return nil, eris.Errorf("source: %s needs partner_iso3 and trade_balance_thousands columns", f.Ref)
	}

	type row struct {
		iso3  string
		value *float64
		year  int
	}
	var rows []row
	latest := 0
	for _, r := range tbl.Rows {
		if reporter >= 0 && !equalCode(fetcher.Get(r, reporter), params.Reporter) {
			continue
		}
		y, _ := strconv.Atoi(fetcher.Get(r, yearCol))
		v, err := parseValue(fetcher.Get(r, balance))
		if err != nil {
			continue
		}
		rows = append(rows, row{iso3: fetcher.Get(r, partner), value: v, year: y})
		latest = max(latest, y)
	}
	if len(rows) == 0 {
		return nil, eris.Wrapf(ErrNoData, "no trade data available for %s", params.Reporter)
	}

	year := params.Year
	if year == 0 {
		year = latest
	}
	asOf := modTime
	if year > 0 {
		asOf = yearEnd(year)
	}

	var out []metrics.Record
	for _, r := range rows {
		if yearCol >= 0 && r.year != year {
			continue
		}
		out = append(out, metrics.Record{Country: identity.ISO3(r.iso3), Value: r.value, AsOf: asOf, Source: f.Key()})
	}
	return out, nil
}

func equalCode(a, b string) bool {
	return identity.NormalizeCode(a) == identity.NormalizeCode(b)
}
