// Package loader reads the raw tabular catalogue that feeds ingestion.
package loader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"movierec/internal/domain"
)

var _ domain.RowSource = (*CSV)(nil)

// CSV is a RowSource over a CSV file with a header row. Missing cells are
// read as empty strings.
type CSV struct {
	Path string
	// Required lists columns that must be present in the header.
	Required []string
}

// Rows reads the whole file.
func (c *CSV) Rows(ctx context.Context) ([]domain.RawRow, error) {
	f, err := os.Open(c.Path)
	if err != nil {
		return nil, &domain.DataLoadError{Source: c.Path, Err: err}
	}
	defer f.Close()
	return ReadCSV(ctx, f, c.Path, c.Required)
}

// ReadCSV parses r. Line numbers in errors are 1-based file lines.
func ReadCSV(ctx context.Context, r io.Reader, source string, required []string) ([]domain.RawRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &domain.DataLoadError{Source: source, Err: errors.New("empty file")}
	}
	if err != nil {
		return nil, &domain.DataLoadError{Source: source, Line: 1, Err: err}
	}
	cols := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		cols[i] = h
		seen[h] = true
	}
	var missing []string
	for _, want := range required {
		if !seen[want] {
			missing = append(missing, want)
		}
	}
	if len(missing) > 0 {
		return nil, &domain.DataLoadError{Source: source, Line: 1, Err: fmt.Errorf("missing columns %s", strings.Join(missing, ", "))}
	}

	var rows []domain.RawRow
	for {
		if len(rows)%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			line := 0
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				line = pe.StartLine
			}
			return nil, &domain.DataLoadError{Source: source, Line: line, Err: err}
		}
		line, _ := cr.FieldPos(0)
		if len(rec) > len(cols) {
			return nil, &domain.DataLoadError{Source: source, Line: line,
				Err: fmt.Errorf("%d fields, header has %d", len(rec), len(cols))}
		}
		row := make(domain.RawRow, len(cols))
		for i, col := range cols {
			if i < len(rec) {
				row[col] = rec[i]
			} else {
				row[col] = ""
			}
		}
		if _, err := domain.ParseYear(row.Get(domain.FieldReleaseYear)); err != nil {
			return nil, &domain.DataLoadError{Source: source, Line: line, Err: err}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
