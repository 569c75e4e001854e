// Package fetcher reads the tabular and archive inputs behind the file
// sources: CSV, XLSX and JSON tables, zipped shapefiles and remote copies.
package fetcher

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

const bom = "\ufeff"

// ctxCheckEvery is how many rows a reader handles between context checks.
const ctxCheckEvery = 256

// ReadCSV reads a delimited table whose first non-blank row is the header.
// The delimiter is sniffed from the header line, so semicolon and tab
// separated exports read the same as comma separated ones.
func ReadCSV(ctx context.Context, r io.Reader) (*Table, error) {
	br := bufio.NewReader(r)
	reader := csv.NewReader(br)
	reader.Comma = sniffDelimiter(br)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	var t *Table
	for n := 0; ; n++ {
		if n%ctxCheckEvery == 0 && ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "csv: context cancelled")
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "csv: read row %d", n+1)
		}
		if n == 0 && len(record) > 0 {
			record[0] = strings.TrimPrefix(record[0], bom)
		}
		t = t.add(trimFields(record))
	}
	if t == nil {
		return nil, eris.New("csv: no header row")
	}
	return t, nil
}

// sniffDelimiter peeks at the first line and returns whichever of ',', ';'
// and tab splits it into the most fields outside quotes. Ties go to ','.
func sniffDelimiter(br *bufio.Reader) rune {
	head, _ := br.Peek(4096)
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	counts := map[rune]int{}
	quoted := false
	for _, c := range string(head) {
		switch c {
		case '"':
			quoted = !quoted
		case ',', ';', '\t':
			if !quoted {
				counts[c]++
			}
		}
	}
	best := ','
	for _, c := range []rune{';', '\t'} {
		if counts[c] > counts[best] {
			best = c
		}
	}
	return best
}

func trimFields(record []string) []string {
	for i, field := range record {
		record[i] = strings.TrimSpace(field)
	}
	return record
}
