// Package report renders the human-readable summary of an analysis run.
package report

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"longitudinal/internal/mixed"
	"longitudinal/internal/personperiod"
)

// Summary is everything a run produced that the report shows.
type Summary struct {
	RunID    string
	Source   string
	Subjects int
	Rows     int
	Missing  int
	Unmapped int

	Occasions  []personperiod.OccasionSummary
	Fits       []*mixed.Fit
	Comparison *mixed.Comparison
}

// NewSummary collects the report inputs from a person-period table and its fits.
func NewSummary(runID, source string, long *personperiod.Table, fits []*mixed.Fit, cmp *mixed.Comparison) Summary {
	return Summary{
		RunID:      runID,
		Source:     source,
		Subjects:   long.Subjects(),
		Rows:       long.Len(),
		Missing:    long.MissingOutcomes(),
		Unmapped:   long.UnmappedOccasions(),
		Occasions:  personperiod.Describe(long),
		Fits:       fits,
		Comparison: cmp,
	}
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).MarginTop(1)
	cellStyle  = lipgloss.NewStyle().Padding(0, 1)
)

// Write renders s to w.
func Write(w io.Writer, s Summary) error {
	_, err := io.WriteString(w, Render(s))
	return err
}

// Render returns the report text.
func Render(s Summary) string {
	var b strings.Builder
	section(&b, "Dataset", grid(
		[]string{"Field", "Value"},
		[][]string{
			{"run", s.RunID},
			{"source", s.Source},
			{"subjects", strconv.Itoa(s.Subjects)},
			{"person-period rows", strconv.Itoa(s.Rows)},
			{"missing outcomes", strconv.Itoa(s.Missing)},
			{"unmapped occasions", strconv.Itoa(s.Unmapped)},
		}))

	if len(s.Occasions) > 0 {
		rows := make([][]string, 0, len(s.Occasions))
		for _, o := range s.Occasions {
			rows = append(rows, []string{o.Occasion, num(o.Time, 0), strconv.Itoa(o.N), strconv.Itoa(o.Missing), num(o.Mean, 3), num(o.SD, 3)})
		}
		section(&b, "Outcome by occasion", grid([]string{"Occasion", "Time", "N", "Missing", "Mean", "SD"}, rows))
	}

	for _, f := range s.Fits {
		writeFit(&b, f)
	}

	if len(s.Fits) > 0 {
		rows := make([][]string, 0, len(s.Fits))
		for _, f := range s.Fits {
			st := mixed.Stats(f)
			rows = append(rows, []string{st.Model, strconv.Itoa(st.DF), num(st.AIC, 2), num(st.BIC, 2), num(st.LogLik, 2), num(st.Deviance, 2)})
		}
		section(&b, "Model fit", grid([]string{"Model", "df", "AIC", "BIC", "logLik", "deviance"}, rows))
	}

	if c := s.Comparison; c != nil {
		section(&b, "Likelihood-ratio test", grid(
			[]string{"Model", "df", "AIC", "BIC", "logLik", "deviance", "Chisq", "Df", "Pr(>Chisq)"},
			[][]string{
				{c.Reduced.Model, strconv.Itoa(c.Reduced.DF), num(c.Reduced.AIC, 2), num(c.Reduced.BIC, 2), num(c.Reduced.LogLik, 2), num(c.Reduced.Deviance, 2), "", "", ""},
				{c.Full.Model, strconv.Itoa(c.Full.DF), num(c.Full.AIC, 2), num(c.Full.BIC, 2), num(c.Full.LogLik, 2), num(c.Full.Deviance, 2), num(c.Chisq, 3), strconv.Itoa(c.DFDiff), pvalue(c.PValue)},
			}))
	}
	return b.String()
}

func writeFit(b *strings.Builder, f *mixed.Fit) {
	method := "ML"
	if f.REML {
		method = "REML"
	}
	header := fmt.Sprintf("Model %s: %s (%s, nobs %d)", f.Model, f.Formula, method, f.NObs)

	fixed := make([][]string, 0, len(f.Fixed))
	for _, c := range f.Fixed {
		fixed = append(fixed, []string{c.Term, num(c.Estimate, 4), num(c.StdError, 4), num(c.TValue, 2)})
	}
	section(b, header, grid([]string{"Term", "Estimate", "Std. Error", "t value"}, fixed))

	random := make([][]string, 0, len(f.Random)+1)
	for _, vc := range f.Random {
		random = append(random, []string{vc.Group, vc.Term, num(vc.Variance, 4), num(vc.StdDev, 4)})
	}
	random = append(random, []string{"Residual", "", num(f.ResidualVariance, 4), num(math.Sqrt(f.ResidualVariance), 4)})
	b.WriteString(grid([]string{"Group", "Term", "Variance", "Std. Dev."}, random))
	b.WriteString("\n")

	if icc := f.ICC(); len(icc) > 0 {
		groups := make([]string, 0, len(icc))
		for g := range icc {
			groups = append(groups, g)
		}
		sort.Strings(groups)
		parts := make([]string, 0, len(groups))
		for _, g := range groups {
			parts = append(parts, fmt.Sprintf("%s %.3f", g, icc[g]))
		}
		fmt.Fprintf(b, "ICC: %s\n", strings.Join(parts, ", "))
	}
	for _, m := range f.Messages {
		fmt.Fprintf(b, "note: %s\n", m)
	}
}

func section(b *strings.Builder, title, body string) {
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")
	b.WriteString(body)
	b.WriteString("\n")
}

func grid(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(_, _ int) lipgloss.Style { return cellStyle }).
		Headers(headers...).
		Rows(rows...).
		String()
}

func num(v float64, prec int) string {
	if math.IsNaN(v) {
		return "NA"
	}
	return strconv.FormatFloat(v, 'f', prec, 64)
}

func pvalue(p float64) string {
	if p < 0.0001 {
		return "<0.0001"
	}
	return strconv.FormatFloat(p, 'f', 4, 64)
}
