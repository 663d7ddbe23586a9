package extraction

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/markdave123-py/contexta-ingest/internal/core"
)

// TabularExtractor rewrites CSV, TSV and XLSX rows as prose. The header row
// is emitted once behind a "Columns:" prefix and every data row becomes
// "Row N: <column> is <value>; ...". Rows are separated by blank lines so
// the chunker can keep rows whole.
type TabularExtractor struct{}

func (e *TabularExtractor) Extract(_ context.Context, data []byte, filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == ".xlsx" || (ext == "" && bytes.HasPrefix(data, []byte("PK\x03\x04"))) {
		return extractWorkbook(data)
	}

	text, err := decodeText(data)
	if err != nil {
		return "", err
	}
	delim := ','
	if ext == ".tsv" || sniffTabs(text) {
		delim = '\t'
	}
	rows, err := readDelimited(text, delim)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", core.ErrExtraction, strings.TrimPrefix(ext, "."), err)
	}
	return strings.Join(rowsToProse(rows), "\n\n"), nil
}

func extractWorkbook(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: xlsx: %v", core.ErrExtraction, err)
	}
	defer f.Close()

	var parts []string
	sheets := f.GetSheetList()
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("%w: xlsx: sheet %q: %v", core.ErrExtraction, sheet, err)
		}
		prose := rowsToProse(rows)
		if len(prose) == 0 {
			continue
		}
		if len(sheets) > 1 {
			parts = append(parts, "Sheet: "+sheet)
		}
		parts = append(parts, prose...)
	}
	return strings.Join(parts, "\n\n"), nil
}

func readDelimited(text string, delim rune) ([][]string, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, rec)
	}
}

// sniffTabs reports whether the first line is tab separated.
func sniffTabs(text string) bool {
	first, _, _ := strings.Cut(text, "\n")
	return strings.Count(first, "\t") > strings.Count(first, ",")
}

// rowsToProse turns a header row plus data rows into prose lines. Blank rows
// are skipped and cells without a header get a positional column name.
func rowsToProse(rows [][]string) []string {
	var (
		header []string
		out    []string
		n      int
	)
	for _, row := range rows {
		cells := trimCells(row)
		if len(cells) == 0 {
			continue
		}
		if header == nil {
			header = cells
			out = append(out, "Columns: "+strings.Join(nonEmpty(header), ", "))
			continue
		}
		n++
		var fields []string
		for i, v := range cells {
			if v == "" {
				continue
			}
			name := fmt.Sprintf("Column %d", i+1)
			if i < len(header) && header[i] != "" {
				name = header[i]
			}
			fields = append(fields, name+" is "+v)
		}
		out = append(out, fmt.Sprintf("Row %d: %s.", n, strings.Join(fields, "; ")))
	}
	return out
}

// trimCells trims every cell and drops trailing empties; an all-empty row
// comes back as nil.
func trimCells(row []string) []string {
	cells := make([]string, len(row))
	last := -1
	for i, c := range row {
		cells[i] = strings.TrimSpace(c)
		if cells[i] != "" {
			last = i
		}
	}
	return cells[:last+1]
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
