package table

import (
	"fmt"
	"strconv"
	"strings"
)

// CellError locates a cell that could not be converted to its column kind. Row
// counts data records from zero.
type CellError struct {
	Row    int
	Column string
	Err    error
}

func (e *CellError) Error() string {
	return fmt.Sprintf("record %d, column %q: %v", e.Row+1, e.Column, e.Err)
}

func (e *CellError) Unwrap() error { return e.Err }

// InferKind picks the narrowest kind able to hold every raw cell: Number when all
// non-missing cells parse as floats, String when any does not, Missing when the column
// holds no values at all.
func InferKind(raw []string) Kind {
	kind := Missing
	for _, cell := range raw {
		if IsMissingToken(cell) {
			continue
		}
		if _, err := strconv.ParseFloat(strings.TrimSpace(cell), 64); err != nil {
			return String
		}
		kind = Number
	}
	return kind
}

// FromRecords infers column kinds from raw string records and converts them.
func FromRecords(header []string, records [][]string) (*Table, error) {
	columns := make([]Column, len(header))
	for i, name := range header {
		col := make([]string, len(records))
		for r, rec := range records {
			col[r] = rec[i]
		}
		columns[i] = Column{Name: name, Kind: InferKind(col)}
	}
	rows := make([][]Value, len(records))
	for r, rec := range records {
		row := make([]Value, len(header))
		for i, raw := range rec {
			v, err := Parse(raw, columns[i].Kind)
			if err != nil {
				return nil, &CellError{Row: r, Column: header[i], Err: err}
			}
			row[i] = v
		}
		rows[r] = row
	}
	return New(columns, rows)
}
