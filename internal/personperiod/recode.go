package personperiod

import (
	"fmt"

	"longitudinal/internal/table"
)

// Policy decides what Recode does with a label outside the coding.
type Policy string

const (
	// Strict fails the recode on the first unmapped label.
	Strict Policy = "strict"
	// NullFill writes a missing time index and carries on.
	NullFill Policy = "null"
)

// ParsePolicy accepts "strict" (or empty) and "null".
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", Strict:
		return Strict, nil
	case NullFill:
		return NullFill, nil
	default:
		return "", fmt.Errorf("unknown unmapped-label policy %q", s)
	}
}

// TimeCoding maps each occasion label to its position, 0 through K-1.
type TimeCoding struct {
	labels []string
	index  map[string]int
}

// NewTimeCoding builds the coding from the ordered occasion labels. Labels must be
// non-empty and unique so the mapping is a bijection onto 0..K-1.
func NewTimeCoding(labels []string) (TimeCoding, error) {
	if len(labels) == 0 {
		return TimeCoding{}, fmt.Errorf("%w: no occasion labels", ErrInvalidCoding)
	}
	idx := make(map[string]int, len(labels))
	for i, l := range labels {
		if l == "" {
			return TimeCoding{}, fmt.Errorf("%w: empty label at position %d", ErrInvalidCoding, i)
		}
		if _, dup := idx[l]; dup {
			return TimeCoding{}, fmt.Errorf("%w: duplicate label %q", ErrInvalidCoding, l)
		}
		idx[l] = i
	}
	return TimeCoding{labels: append([]string(nil), labels...), index: idx}, nil
}

// Index returns the time index of label.
func (c TimeCoding) Index(label string) (int, bool) {
	i, ok := c.index[label]
	return i, ok
}

// Labels returns the labels in time order.
func (c TimeCoding) Labels() []string { return append([]string(nil), c.labels...) }

// Len returns the number of occasions.
func (c TimeCoding) Len() int { return len(c.labels) }

// RecodeResult carries the recoded table and the number of rows left without a time index.
type RecodeResult struct {
	Table    *Table
	Unmapped int
}

// Recode attaches the numeric time index to every row by exact label match.
func Recode(long *Table, coding TimeCoding, policy Policy) (RecodeResult, error) {
	if coding.Len() == 0 {
		return RecodeResult{}, fmt.Errorf("%w: empty coding", ErrInvalidCoding)
	}
	records := make([]Record, len(long.records))
	unmapped := 0
	for i, r := range long.records {
		r.Covariates = append([]table.Value(nil), r.Covariates...)
		idx, ok := coding.Index(r.Occasion)
		switch {
		case ok:
			r.Time = table.Num(float64(idx))
		case policy == NullFill:
			r.Time = table.NA()
			unmapped++
		default:
			return RecodeResult{}, &UnmappedError{Row: i + 1, Label: r.Occasion}
		}
		records[i] = r
	}
	out := &Table{schema: long.schema, records: records, subjects: long.subjects, recoded: true}
	return RecodeResult{Table: out, Unmapped: unmapped}, nil
}
