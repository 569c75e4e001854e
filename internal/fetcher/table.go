package fetcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Table is a header row plus data rows read from a CSV or XLSX file.
// Blank rows are never stored.
type Table struct {
	Header []string
	Rows   [][]string
	index  map[string]int
}

// add appends a trimmed row. The first non-blank row becomes the header;
// a nil receiver starts a new table.
func (t *Table) add(row []string) *Table {
	if blank(row) {
		return t
	}
	if t == nil {
		t = &Table{Header: row, index: make(map[string]int, len(row))}
		for i, h := range row {
			key := strings.ToLower(h)
			if _, dup := t.index[key]; !dup {
				t.index[key] = i
			}
		}
		return t
	}
	t.Rows = append(t.Rows, row)
	return t
}

// Col returns the index of the first header matching any of names,
// case-insensitively, or -1.
func (t *Table) Col(names ...string) int {
	for _, n := range names {
		if i, ok := t.index[strings.ToLower(n)]; ok {
			return i
		}
	}
	return -1
}

// Get returns row[col], or "" when col is out of range.
func Get(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}

// ReadTable reads path by extension: .xlsx as a workbook, anything else
// as delimited text.
func ReadTable(ctx context.Context, path string) (*Table, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		t, err := ReadXLSX(ctx, path, "")
		return t, eris.Wrapf(err, "table: read %s", path)
	}

	f, err := os.Open(path) //nolint:gosec
	if err != nil {
		return nil, eris.Wrapf(err, "table: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	t, err := ReadCSV(ctx, f)
	return t, eris.Wrapf(err, "table: read %s", path)
}

func blank(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}
