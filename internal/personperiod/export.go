package personperiod

import (
	"encoding/csv"
	"io"
)

// WriteCSV writes the table with a header row. Missing values are written as NA so
// the file can be read directly by R.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.schema.LongColumns()); err != nil {
		return err
	}
	rec := make([]string, 0, len(t.schema.LongColumns()))
	for _, r := range t.records {
		rec = rec[:0]
		rec = append(rec, r.Subject.String(), r.Cluster.String())
		for _, c := range r.Covariates {
			rec = append(rec, c.String())
		}
		rec = append(rec, r.Occasion, r.Outcome.String(), r.Time.String())
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
