package personperiod

import (
	"fmt"

	"longitudinal/internal/table"
)

// Record is one (subject, occasion) row of the person-period table.
type Record struct {
	Subject    table.Value
	Cluster    table.Value
	Covariates []table.Value
	Occasion   string
	Outcome    table.Value
	// Time is missing until the table has been recoded.
	Time table.Value
}

// Table is the person-period table. It is immutable after construction; Recode
// returns a new table.
type Table struct {
	schema   Schema
	records  []Record
	subjects int
	recoded  bool
}

// Schema returns the schema the table was built with.
func (t *Table) Schema() Schema { return t.schema }

// Len returns the number of person-period rows.
func (t *Table) Len() int { return len(t.records) }

// Subjects returns the number of distinct subjects.
func (t *Table) Subjects() int { return t.subjects }

// Recoded reports whether the time index has been attached.
func (t *Table) Recoded() bool { return t.recoded }

// Record returns row i. The covariate slice is a copy.
func (t *Table) Record(i int) Record {
	r := t.records[i]
	r.Covariates = append([]table.Value(nil), r.Covariates...)
	return r
}

// Records returns a copy of every row in table order.
func (t *Table) Records() []Record {
	out := make([]Record, len(t.records))
	for i := range t.records {
		out[i] = t.Record(i)
	}
	return out
}

// Subject returns the rows of one subject in occasion order.
func (t *Table) Subject(id table.Value) []Record {
	var out []Record
	for i, r := range t.records {
		if r.Subject.Equal(id) {
			out = append(out, t.Record(i))
		}
	}
	return out
}

// MissingOutcomes counts rows with a missing outcome.
func (t *Table) MissingOutcomes() int {
	n := 0
	for _, r := range t.records {
		if r.Outcome.IsMissing() {
			n++
		}
	}
	return n
}

// UnmappedOccasions counts rows of a recoded table whose occasion had no time
// index. It is zero before recoding.
func (t *Table) UnmappedOccasions() int {
	if !t.recoded {
		return 0
	}
	n := 0
	for _, r := range t.records {
		if r.Time.IsMissing() {
			n++
		}
	}
	return n
}

// NewTable builds a person-period table from existing records, e.g. when reading
// a persisted run back. Subjects are counted by distinct id.
func NewTable(schema Schema, records []Record, recoded bool) *Table {
	seen := make(map[string]struct{})
	for _, r := range records {
		seen[subjectKey(r.Subject)] = struct{}{}
	}
	return &Table{schema: schema, records: records, subjects: len(seen), recoded: recoded}
}

// Reshape stacks the schema's occasion columns into one row per subject and
// occasion, copying subject, cluster and covariates onto each row.
func Reshape(wide *table.Table, schema Schema) (*Table, error) {
	if err := schema.Validate(wide); err != nil {
		return nil, err
	}
	subjectIdx, _ := wide.Index(schema.Subject)
	clusterIdx, _ := wide.Index(schema.Cluster)
	covIdx := make([]int, len(schema.Covariates))
	for i, name := range schema.Covariates {
		covIdx[i], _ = wide.Index(name)
	}
	occIdx := make([]int, len(schema.Occasions))
	for i, name := range schema.Occasions {
		occIdx[i], _ = wide.Index(name)
	}

	seen := make(map[string]int, wide.Len())
	records := make([]Record, 0, wide.Len()*len(schema.Occasions))
	for r, row := range wide.Rows {
		id := row[subjectIdx]
		if id.IsMissing() {
			return nil, fmt.Errorf("%w: row %d has no subject id", ErrSchemaMismatch, r+1)
		}
		key := subjectKey(id)
		if first, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: %s on rows %d and %d", ErrDuplicateSubject, id, first+1, r+1)
		}
		seen[key] = r
		covariates := make([]table.Value, len(covIdx))
		for i, idx := range covIdx {
			covariates[i] = row[idx]
		}
		for i, idx := range occIdx {
			records = append(records, Record{
				Subject:    id,
				Cluster:    row[clusterIdx],
				Covariates: covariates,
				Occasion:   schema.Occasions[i],
				Outcome:    row[idx],
			})
		}
	}
	return &Table{schema: schema, records: records, subjects: len(seen)}, nil
}

func subjectKey(v table.Value) string {
	return fmt.Sprintf("%d:%s", v.Kind, v)
}
