// Package table holds the in-memory tabular representation shared by the
// loader and the person-period reshaper.
package table

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind classifies a cell or an inferred column type.
type Kind int

const (
	// Missing marks an absent value (NA).
	Missing Kind = iota
	// Number marks a float64 value.
	Number
	// String marks a text value.
	String
)

func (k Kind) String() string {
	switch k {
	case Number:
		return "number"
	case String:
		return "string"
	default:
		return "missing"
	}
}

// ErrUnknownColumn is returned when a column lookup fails.
var ErrUnknownColumn = errors.New("table: unknown column")

// Value is a single cell. The zero Value is missing.
type Value struct {
	Kind Kind
	Num  float64
	Str  string
}

// NA returns a missing value.
func NA() Value { return Value{} }

// Num returns a numeric value.
func Num(v float64) Value { return Value{Kind: Number, Num: v} }

// Str returns a string value.
func Str(s string) Value { return Value{Kind: String, Str: s} }

// IsMissing reports whether the value is NA.
func (v Value) IsMissing() bool { return v.Kind == Missing }

// String renders the value the way it is written back to CSV; missing values render as NA.
func (v Value) String() string {
	switch v.Kind {
	case Number:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case String:
		return v.Str
	default:
		return "NA"
	}
}

// Equal compares kind and payload. NaN numbers are equal to each other.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case Number:
		return v.Num == o.Num || (math.IsNaN(v.Num) && math.IsNaN(o.Num))
	case String:
		return v.Str == o.Str
	default:
		return true
	}
}

// ErrNonFinite is returned for numeric cells spelling an infinity.
var ErrNonFinite = errors.New("table: non-finite number")

var missingTokens = map[string]struct{}{
	"":     {},
	"na":   {},
	"nan":  {},
	".":    {},
	"null": {},
}

// IsMissingToken reports whether raw is one of the recognised NA spellings.
func IsMissingToken(raw string) bool {
	_, ok := missingTokens[strings.ToLower(strings.TrimSpace(raw))]
	return ok
}

// Parse converts raw text into a cell using the column kind.
func Parse(raw string, kind Kind) (Value, error) {
	if IsMissingToken(raw) {
		return NA(), nil
	}
	switch kind {
	case Number:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return Value{}, fmt.Errorf("parse number %q: %w", raw, err)
		}
		if math.IsInf(f, 0) {
			return Value{}, fmt.Errorf("%w: %q", ErrNonFinite, raw)
		}
		return Num(f), nil
	case String:
		return Str(raw), nil
	default:
		return NA(), nil
	}
}

// Column describes one named column and its inferred kind.
type Column struct {
	Name string
	Kind Kind
}

// Table is a row-oriented table with a fixed column set.
type Table struct {
	Columns []Column
	Rows    [][]Value
	index   map[string]int
}

// New builds a table, indexing the column names. Rows must match the column count.
func New(columns []Column, rows [][]Value) (*Table, error) {
	idx := make(map[string]int, len(columns))
	for i, c := range columns {
		if _, dup := idx[c.Name]; dup {
			return nil, fmt.Errorf("table: duplicate column %q", c.Name)
		}
		idx[c.Name] = i
	}
	for i, r := range rows {
		if len(r) != len(columns) {
			return nil, fmt.Errorf("table: row %d has %d cells, want %d", i, len(r), len(columns))
		}
	}
	return &Table{Columns: columns, Rows: rows, index: idx}, nil
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// Names returns the column names in order.
func (t *Table) Names() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Index returns the position of the named column.
func (t *Table) Index(name string) (int, bool) {
	i, ok := t.index[name]
	return i, ok
}

// Column returns the metadata for the named column.
func (t *Table) Column(name string) (Column, error) {
	i, ok := t.index[name]
	if !ok {
		return Column{}, fmt.Errorf("%w: %s", ErrUnknownColumn, name)
	}
	return t.Columns[i], nil
}

// Cell returns the value at row r of the named column.
func (t *Table) Cell(r int, name string) (Value, error) {
	i, ok := t.index[name]
	if !ok {
		return Value{}, fmt.Errorf("%w: %s", ErrUnknownColumn, name)
	}
	return t.Rows[r][i], nil
}
