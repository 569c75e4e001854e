package source

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/tariff-map/internal/identity"
	"github.com/sells-group/tariff-map/internal/metrics"
)

// SQLite is an offline snapshot of a registry and its joined metric values.
// A snapshot holds one period; Fetch ignores Params.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens the snapshot at dsn and configures WAL mode.
func OpenSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLite{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS countries (
	iso3         TEXT PRIMARY KEY,
	numeric_id   INTEGER NOT NULL DEFAULT 0,
	name         TEXT NOT NULL,
	trade_region TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS country_aliases (
	alias TEXT PRIMARY KEY,
	iso3  TEXT NOT NULL REFERENCES countries(iso3)
);

CREATE TABLE IF NOT EXISTS metric_values (
	metric TEXT NOT NULL,
	iso3   TEXT NOT NULL,
	value  REAL NOT NULL,
	as_of  TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (metric, iso3)
);

CREATE TABLE IF NOT EXISTS snapshot_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Migrate creates the snapshot tables.
func (s *SQLite) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// WriteSnapshot replaces the snapshot with the non-aggregate identities of
// reg and the direct values of res. Inherited values are left out; they are
// derived again when the snapshot is joined.
func (s *SQLite) WriteSnapshot(ctx context.Context, reg *identity.Registry, res *metrics.Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin snapshot")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, table := range []string{"metric_values", "country_aliases", "countries", "snapshot_meta"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return eris.Wrapf(err, "sqlite: clear %s", table)
		}
	}

	var countries, aliases int
	for _, c := range reg.Countries() {
		if c.Aggregate {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO countries (iso3, numeric_id, name, trade_region) VALUES (?, ?, ?, ?)`,
			c.ISO3, c.NumericID, c.Name, c.TradeRegion,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert country %s", c.ISO3)
		}
		countries++
		for _, alias := range c.Aliases {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO country_aliases (alias, iso3) VALUES (?, ?)`, alias, c.ISO3,
			); err != nil {
				return eris.Wrapf(err, "sqlite: insert alias %s", alias)
			}
			aliases++
		}
	}

	var values int
	if res != nil {
		for iso3, rec := range res.Records {
			for metric, v := range rec.Values() {
				if rec.InheritedFrom(metric) != "" {
					continue
				}
				asOf := ""
				if t := rec.AsOf(metric); !t.IsZero() {
					asOf = t.UTC().Format(time.RFC3339)
				}
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO metric_values (metric, iso3, value, as_of) VALUES (?, ?, ?, ?)`,
					metric, iso3, v, asOf,
				); err != nil {
					return eris.Wrapf(err, "sqlite: insert %s value for %s", metric, iso3)
				}
				values++
			}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshot_meta (key, value) VALUES ('written_at', ?)`,
		time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return eris.Wrap(err, "sqlite: write snapshot meta")
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit snapshot")
	}

	zap.L().Info("sqlite: snapshot written",
		zap.Int("countries", countries),
		zap.Int("aliases", aliases),
		zap.Int("values", values),
	)
	return nil
}

// Countries implements CountrySource.
func (s *SQLite) Countries(ctx context.Context) ([]identity.Country, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT iso3, numeric_id, name, trade_region FROM countries ORDER BY iso3`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query countries")
	}
	defer rows.Close() //nolint:errcheck

	var out []identity.Country
	for rows.Next() {
		var c identity.Country
		if err := rows.Scan(&c.ISO3, &c.NumericID, &c.Name, &c.TradeRegion); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan country")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate countries")
}

// Aliases implements AliasSource.
func (s *SQLite) Aliases(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT alias, iso3 FROM country_aliases`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query aliases")
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[string]string)
	for rows.Next() {
		var alias, iso3 string
		if err := rows.Scan(&alias, &iso3); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan alias")
		}
		out[alias] = iso3
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate aliases")
}

// Metrics lists the metrics the snapshot holds values for.
func (s *SQLite) Metrics(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT metric FROM metric_values`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query metrics")
	}
	defer rows.Close() //nolint:errcheck

	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan metric")
		}
		out = append(out, m)
	}
	sort.Strings(out)
	return out, eris.Wrap(rows.Err(), "sqlite: iterate metrics")
}

// WrittenAt returns when the snapshot was written, or the zero time for an
// empty database.
func (s *SQLite) WrittenAt(ctx context.Context) (time.Time, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM snapshot_meta WHERE key = 'written_at'`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, eris.Wrap(err, "sqlite: query snapshot meta")
	}
	t, err := time.Parse(time.RFC3339, raw)
	return t, eris.Wrap(err, "sqlite: parse written_at")
}

// Metric returns the source for one snapshot metric.
func (s *SQLite) Metric(metric string) MetricSource {
	return &sqliteMetric{s: s, metric: metric}
}

type sqliteMetric struct {
	s      *SQLite
	metric string
}

func (m *sqliteMetric) Key() string    { return m.metric }
func (m *sqliteMetric) Metric() string { return m.metric }

func (m *sqliteMetric) Fetch(ctx context.Context, _ Params) ([]metrics.Record, error) {
	rows, err := m.s.db.QueryContext(ctx,
		`SELECT iso3, value, as_of FROM metric_values WHERE metric = ? ORDER BY iso3`, m.metric)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: query %s", m.metric)
	}
	defer rows.Close() //nolint:errcheck

	var out []metrics.Record
	for rows.Next() {
		var iso3, asOf string
		var value float64
		if err := rows.Scan(&iso3, &value, &asOf); err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan %s", m.metric)
		}
		rec := metrics.Record{Country: identity.ISO3(iso3), Value: &value, Source: m.Key()}
		if asOf != "" {
			if t, err := time.Parse(time.RFC3339, asOf); err == nil {
				rec.AsOf = t
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "sqlite: iterate %s", m.metric)
	}
	return out, nil
}
