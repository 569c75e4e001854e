package fetcher

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// ReadXLSX reads one worksheet as a table. An empty sheet name picks the
// first sheet with any content, which skips cover and notes tabs placed
// before the data.
func ReadXLSX(ctx context.Context, path, sheet string) (*Table, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}

	var candidates []*xlsx.Sheet
	if sheet != "" {
		s, ok := f.Sheet[sheet]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", sheet)
		}
		candidates = []*xlsx.Sheet{s}
	} else {
		candidates = f.Sheets
	}

	for _, s := range candidates {
		var t *Table
		for n, row := range s.Rows {
			if n%ctxCheckEvery == 0 && ctx.Err() != nil {
				return nil, eris.Wrap(ctx.Err(), "xlsx: context cancelled")
			}
			t = t.add(cellStrings(row))
		}
		if t != nil {
			return t, nil
		}
	}
	return nil, eris.New("xlsx: no sheet with a header row")
}

func cellStrings(row *xlsx.Row) []string {
	if row == nil {
		return nil
	}
	cells := make([]string, len(row.Cells))
	for i, cell := range row.Cells {
		cells[i] = strings.TrimSpace(cell.String())
	}
	return cells
}
