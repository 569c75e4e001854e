package db

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Mode selects how a Load merges its rows into the table.
type Mode int

const (
	// Upsert overwrites existing rows that share Key.
	Upsert Mode = iota
	// InsertMissing keeps existing rows that share Key.
	InsertMissing
	// ReplaceTagged deletes the rows whose TagCol equals TagValue, then
	// inserts. Rows carrying other tags are untouched.
	ReplaceTagged
)

func (m Mode) String() string {
	switch m {
	case Upsert:
		return "upsert"
	case InsertMissing:
		return "insert-missing"
	case ReplaceTagged:
		return "replace-tagged"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Load describes one bulk write. Table may be schema-qualified.
type Load struct {
	Table   string
	Columns []string
	Mode    Mode

	// Key is the unique constraint Upsert and InsertMissing conflict on.
	Key []string

	// TagCol and TagValue select the rows ReplaceTagged replaces. TagCol
	// must be one of Columns.
	TagCol   string
	TagValue string
}

func (l Load) validate(rows [][]any) error {
	if l.Table == "" {
		return eris.New("db: load: no table")
	}
	if len(l.Columns) == 0 {
		return eris.Errorf("db: load %s: no columns", l.Table)
	}
	switch l.Mode {
	case Upsert, InsertMissing:
		if len(l.Key) == 0 {
			return eris.Errorf("db: load %s: %s needs a key", l.Table, l.Mode)
		}
		for _, k := range l.Key {
			if !slices.Contains(l.Columns, k) {
				return eris.Errorf("db: load %s: key column %q is not loaded", l.Table, k)
			}
		}
	case ReplaceTagged:
		if !slices.Contains(l.Columns, l.TagCol) {
			return eris.Errorf("db: load %s: tag column %q is not loaded", l.Table, l.TagCol)
		}
	default:
		return eris.Errorf("db: load %s: unknown %s", l.Table, l.Mode)
	}
	for i, r := range rows {
		if len(r) != len(l.Columns) {
			return eris.Errorf("db: load %s: row %d has %d values for %d columns", l.Table, i, len(r), len(l.Columns))
		}
	}
	return nil
}

// Apply writes rows in one transaction and returns the number of rows
// written. Upsert and InsertMissing COPY into a staging table and merge
// with INSERT ... ON CONFLICT; ReplaceTagged COPYs straight into the table.
// An empty Upsert or InsertMissing is a no-op; an empty ReplaceTagged
// still clears its tag.
func Apply(ctx context.Context, pool Pool, l Load, rows [][]any) (int64, error) {
	if err := l.validate(rows); err != nil {
		return 0, err
	}
	if len(rows) == 0 && l.Mode != ReplaceTagged {
		return 0, nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrapf(err, "db: load %s: begin", l.Table)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var n int64
	if l.Mode == ReplaceTagged {
		n, err = replaceTagged(ctx, tx, l, rows)
	} else {
		n, err = mergeStaged(ctx, tx, l, rows)
	}
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrapf(err, "db: load %s: commit", l.Table)
	}
	return n, nil
}

func replaceTagged(ctx context.Context, tx pgx.Tx, l Load, rows [][]any) (int64, error) {
	del := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", tableIdent(l.Table).Sanitize(), pgx.Identifier{l.TagCol}.Sanitize())
	if _, err := tx.Exec(ctx, del, l.TagValue); err != nil {
		return 0, eris.Wrapf(err, "db: load %s: clear rows tagged %s", l.Table, l.TagValue)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := tx.CopyFrom(ctx, tableIdent(l.Table), l.Columns, pgx.CopyFromRows(rows))
	return n, eris.Wrapf(err, "db: load %s: copy", l.Table)
}

func mergeStaged(ctx context.Context, tx pgx.Tx, l Load, rows [][]any) (int64, error) {
	stage := stagingTable(l.Table)
	create := fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{stage}.Sanitize(), tableIdent(l.Table).Sanitize())
	if _, err := tx.Exec(ctx, create); err != nil {
		return 0, eris.Wrapf(err, "db: load %s: create staging table", l.Table)
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{stage}, l.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: load %s: copy into staging table", l.Table)
	}
	tag, err := tx.Exec(ctx, mergeSQL(l, stage))
	if err != nil {
		return 0, eris.Wrapf(err, "db: load %s: merge", l.Table)
	}
	return tag.RowsAffected(), nil
}

func stagingTable(table string) string {
	return "_stage_" + strings.ReplaceAll(table, ".", "_")
}

// mergeSQL inserts the staging rows into the table. Upsert overwrites every
// non-key column on conflict; InsertMissing leaves the existing row.
func mergeSQL(l Load, stage string) string {
	cols := identList(l.Columns)
	action := "DO NOTHING"
	if l.Mode == Upsert {
		var set []string
		for _, c := range l.Columns {
			if slices.Contains(l.Key, c) {
				continue
			}
			q := pgx.Identifier{c}.Sanitize()
			set = append(set, q+" = EXCLUDED."+q)
		}
		if len(set) > 0 {
			action = "DO UPDATE SET " + strings.Join(set, ", ")
		}
	}
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
		tableIdent(l.Table).Sanitize(), cols, cols, pgx.Identifier{stage}.Sanitize(), identList(l.Key), action)
}

// tableIdent splits an optional schema prefix.
func tableIdent(table string) pgx.Identifier {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}
	}
	return pgx.Identifier{table}
}

func identList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
