package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tariff-map/internal/db"
	"github.com/sells-group/tariff-map/internal/identity"
	"github.com/sells-group/tariff-map/internal/metrics"
)

// ErrNoData is returned when a reporter has no rows for the requested
// period.
var ErrNoData = eris.New("source: no data")

const (
	countriesSQL = `SELECT iso_alpha3, name FROM tbl_countries`
	aliasesSQL   = `SELECT alternative_code, iso_alpha3 FROM tbl_country_code_mapping`

	latestDeficitYearSQL = `SELECT year FROM vw_trade_deficits WHERE reporter_iso3 = $1 ORDER BY year DESC LIMIT 1`
	deficitsSQL          = `SELECT partner_iso3, trade_balance_thousands FROM vw_trade_deficits WHERE year = $1 AND reporter_iso3 = $2`

	latestRateYearSQL = `SELECT EXTRACT(YEAR FROM MAX(tariff_date))::int FROM tbl_tariff_rates WHERE imposing_iso3 = $1`
	appliedRatesSQL   = `SELECT target_iso3, AVG(avg_tariff) FROM tbl_tariff_rates
WHERE imposing_iso3 = $1 AND tariff_date >= $2 AND tariff_date <= $3 AND avg_tariff IS NOT NULL
GROUP BY target_iso3`
)

// tariffSQL selects one tariff column. Rows without a reciprocal rate are
// excluded for every column.
func tariffSQL(column string) string {
	return fmt.Sprintf(
		`SELECT partner_iso3, partner_name, %s FROM tbl_trump_tariff WHERE %s IS NOT NULL`,
		pgx.Identifier{column}.Sanitize(),
		pgx.Identifier{ColReciprocal}.Sanitize(),
	)
}

// Postgres reads the country, alias and metric tables.
type Postgres struct {
	pool db.Pool
	now  func() time.Time
}

// NewPostgres wraps pool.
func NewPostgres(pool db.Pool) *Postgres {
	return &Postgres{pool: pool, now: time.Now}
}

// Countries implements CountrySource.
func (p *Postgres) Countries(ctx context.Context) ([]identity.Country, error) {
	rows, err := p.pool.Query(ctx, countriesSQL)
	if err != nil {
		return nil, eris.Wrap(err, "source: query countries")
	}
	defer rows.Close()

	var out []identity.Country
	for rows.Next() {
		var iso3 string
		var name *string
		if err := rows.Scan(&iso3, &name); err != nil {
			return nil, eris.Wrap(err, "source: scan country")
		}
		c := identity.Country{ISO3: iso3}
		if name != nil {
			c.Name = *name
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "source: iterate countries")
	}
	return out, nil
}

// Aliases implements AliasSource.
func (p *Postgres) Aliases(ctx context.Context) (map[string]string, error) {
	rows, err := p.pool.Query(ctx, aliasesSQL)
	if err != nil {
		return nil, eris.Wrap(err, "source: query country code mapping")
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var alt, iso3 string
		if err := rows.Scan(&alt, &iso3); err != nil {
			return nil, eris.Wrap(err, "source: scan country code mapping")
		}
		out[alt] = iso3
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "source: iterate country code mapping")
	}
	return out, nil
}

// Tariffs returns the source for one tbl_trump_tariff column, ColReciprocal
// or ColClaimed.
func (p *Postgres) Tariffs(column string) MetricSource {
	return &pgTariffs{p: p, column: column}
}

// Deficits returns the trade balance source.
func (p *Postgres) Deficits() MetricSource { return &pgDeficits{p: p} }

// AppliedTariffs returns the yearly average applied tariff the reporter
// imposes on each partner.
func (p *Postgres) AppliedTariffs() MetricSource { return &pgAppliedTariffs{p: p} }

type pgTariffs struct {
	p      *Postgres
	column string
}

func (s *pgTariffs) Key() string    { return tariffMetric(s.column) }
func (s *pgTariffs) Metric() string { return tariffMetric(s.column) }

func (s *pgTariffs) Fetch(ctx context.Context, _ Params) ([]metrics.Record, error) {
	if s.column != ColReciprocal && s.column != ColClaimed {
		return nil, eris.Errorf("source: unknown tariff column %q", s.column)
	}
	rows, err := s.p.pool.Query(ctx, tariffSQL(s.column))
	if err != nil {
		return nil, eris.Wrap(err, "source: query tbl_trump_tariff")
	}
	defer rows.Close()

	asOf := s.p.now()
	var out []metrics.Record
	for rows.Next() {
		var iso3, name *string
		var value *float64
		if err := rows.Scan(&iso3, &name, &value); err != nil {
			return nil, eris.Wrap(err, "source: scan tbl_trump_tariff")
		}
		tok, ok := partnerToken(iso3, name)
		if !ok {
			continue
		}
		out = append(out, metrics.Record{Country: tok, Value: value, AsOf: asOf, Source: s.Key()})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "source: iterate tbl_trump_tariff")
	}
	return out, nil
}

// partnerToken prefers the stored code and falls back to the name.
func partnerToken(iso3, name *string) (identity.Token, bool) {
	if iso3 != nil && *iso3 != "" {
		return identity.ISO3(*iso3), true
	}
	if name != nil && *name != "" {
		return identity.Name(*name), true
	}
	return identity.Token{}, false
}

type pgDeficits struct{ p *Postgres }

func (s *pgDeficits) Key() string    { return metrics.Deficit }
func (s *pgDeficits) Metric() string { return metrics.Deficit }

func (s *pgDeficits) Fetch(ctx context.Context, params Params) ([]metrics.Record, error) {
	params = params.WithDefaults()
	year := params.Year
	if year == 0 {
		err := s.p.pool.QueryRow(ctx, latestDeficitYearSQL, params.Reporter).Scan(&year)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNoData, "no trade data available for %s", params.Reporter)
		}
		if err != nil {
			return nil, eris.Wrap(err, "source: query latest deficit year")
		}
		zap.L().Debug("source: resolved latest deficit year",
			zap.String("reporter", params.Reporter), zap.Int("year", year))
	}

	rows, err := s.p.pool.Query(ctx, deficitsSQL, year, params.Reporter)
	if err != nil {
		return nil, eris.Wrap(err, "source: query vw_trade_deficits")
	}
	defer rows.Close()

	asOf := yearEnd(year)
	var out []metrics.Record
	for rows.Next() {
		var iso3 string
		var balance *float64
		if err := rows.Scan(&iso3, &balance); err != nil {
			return nil, eris.Wrap(err, "source: scan vw_trade_deficits")
		}
		out = append(out, metrics.Record{Country: identity.ISO3(iso3), Value: balance, AsOf: asOf, Source: s.Key()})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "source: iterate vw_trade_deficits")
	}
	return out, nil
}

type pgAppliedTariffs struct{ p *Postgres }

func (s *pgAppliedTariffs) Key() string    { return metrics.AppliedTariff }
func (s *pgAppliedTariffs) Metric() string { return metrics.AppliedTariff }

func (s *pgAppliedTariffs) Fetch(ctx context.Context, params Params) ([]metrics.Record, error) {
	params = params.WithDefaults()
	year := params.Year
	if year == 0 {
		var latest *int
		if err := s.p.pool.QueryRow(ctx, latestRateYearSQL, params.Reporter).Scan(&latest); err != nil {
			return nil, eris.Wrap(err, "source: query latest tariff rate year")
		}
		if latest == nil {
			return nil, eris.Wrapf(ErrNoData, "no tariff rates imposed by %s", params.Reporter)
		}
		year = *latest
	}

	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	rows, err := s.p.pool.Query(ctx, appliedRatesSQL, params.Reporter, start, yearEnd(year))
	if err != nil {
		return nil, eris.Wrap(err, "source: query tbl_tariff_rates")
	}
	defer rows.Close()

	asOf := yearEnd(year)
	var out []metrics.Record
	for rows.Next() {
		var iso3 string
		var avg *float64
		if err := rows.Scan(&iso3, &avg); err != nil {
			return nil, eris.Wrap(err, "source: scan tbl_tariff_rates")
		}
		out = append(out, metrics.Record{Country: identity.ISO3(iso3), Value: avg, AsOf: asOf, Source: s.Key()})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "source: iterate tbl_tariff_rates")
	}
	return out, nil
}

func yearEnd(year int) time.Time {
	return time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)
}
