package personperiod

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// OccasionSummary is the outcome distribution at one occasion.
type OccasionSummary struct {
	Occasion string  `json:"occasion"`
	Time     float64 `json:"time"`
	N        int     `json:"n"`
	Missing  int     `json:"missing"`
	Mean     float64 `json:"mean"`
	SD       float64 `json:"sd"`
}

// Describe summarises the outcome per occasion, in the schema's occasion order.
// Mean and SD are NaN when an occasion has no observed values.
func Describe(t *Table) []OccasionSummary {
	order := t.schema.Occasions
	values := make(map[string][]float64, len(order))
	out := make([]OccasionSummary, len(order))
	pos := make(map[string]int, len(order))
	for i, occ := range order {
		pos[occ] = i
		out[i] = OccasionSummary{Occasion: occ, Time: math.NaN()}
	}
	for _, r := range t.records {
		i, ok := pos[r.Occasion]
		if !ok {
			continue
		}
		if !r.Time.IsMissing() {
			out[i].Time = r.Time.Num
		}
		if r.Outcome.IsMissing() {
			out[i].Missing++
			continue
		}
		values[r.Occasion] = append(values[r.Occasion], r.Outcome.Num)
	}
	for i := range out {
		xs := values[out[i].Occasion]
		out[i].N = len(xs)
		switch len(xs) {
		case 0:
			out[i].Mean, out[i].SD = math.NaN(), math.NaN()
		case 1:
			out[i].Mean, out[i].SD = xs[0], math.NaN()
		default:
			out[i].Mean, out[i].SD = stat.MeanStdDev(xs, nil)
		}
	}
	return out
}
