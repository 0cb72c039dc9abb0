package report

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"longitudinal/internal/mixed"
	"longitudinal/internal/personperiod"
	"longitudinal/internal/table"
)

func sampleFits() (*mixed.Fit, *mixed.Fit) {
	growth := &mixed.Fit{
		Model: "growth", Formula: "Score ~ Time + (1 | ID)", REML: true,
		Fixed: []mixed.Coefficient{
			{Term: "(Intercept)", Estimate: 50.25, StdError: 1.2, TValue: 41.88},
			{Term: "Time", Estimate: 2.5, StdError: 0.3, TValue: 8.33},
		},
		Random:           []mixed.VarianceComponent{{Group: "ID", Term: "(Intercept)", Variance: 30, StdDev: math.Sqrt(30)}},
		ResidualVariance: 10,
		NObs:             120,
		LogLik:           -100,
		DF:               4,
	}
	nested := &mixed.Fit{
		Model: "nested", Formula: "Score ~ Time + (1 | School/ID)", REML: true,
		Fixed: growth.Fixed,
		Random: []mixed.VarianceComponent{
			{Group: "ID:School", Term: "(Intercept)", Variance: 20, StdDev: math.Sqrt(20)},
			{Group: "School", Term: "(Intercept)", Variance: 10, StdDev: math.Sqrt(10)},
		},
		ResidualVariance: 10,
		NObs:             120,
		LogLik:           -95,
		DF:               5,
		Messages:         []string{"boundary (singular) fit: see help('isSingular')"},
	}
	return growth, nested
}

func TestRenderIncludesEverySection(t *testing.T) {
	growth, nested := sampleFits()
	cmp, err := mixed.Compare(growth, nested)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	out := Render(Summary{
		RunID:    "run-1",
		Source:   "reading.csv",
		Subjects: 20,
		Rows:     120,
		Missing:  3,
		Occasions: []personperiod.OccasionSummary{
			{Occasion: "occasion1", Time: 0, N: 20, Mean: 48.5, SD: 5.25},
			{Occasion: "occasion2", Time: 1, N: 0, Missing: 20, Mean: math.NaN(), SD: math.NaN()},
		},
		Fits:       []*mixed.Fit{growth, nested},
		Comparison: cmp,
	})

	for _, want := range []string{
		"Dataset", "run-1", "reading.csv", "missing outcomes",
		"Outcome by occasion", "occasion1", "48.500", "NA",
		"Model growth: Score ~ Time + (1 | ID) (REML, nobs 120)",
		"(Intercept)", "50.2500", "Residual",
		"ICC: ID 0.750",
		"ICC: ID:School 0.500, School 0.250",
		"note: boundary (singular) fit",
		"Model fit", "208.00", "200.00",
		"Likelihood-ratio test", "10.000", "0.0016",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q\n%s", want, out)
		}
	}
}

func TestWriteWithoutFits(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, Summary{RunID: "r", Subjects: 2, Rows: 12}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "person-period rows") || strings.Contains(out, "Model fit") || strings.Contains(out, "Likelihood-ratio") {
		t.Fatalf("unexpected report:\n%s", out)
	}
}

func TestPValueFormatting(t *testing.T) {
	if got := pvalue(1e-9); got != "<0.0001" {
		t.Fatalf("pvalue small = %q", got)
	}
	if got := pvalue(0.25); got != "0.2500" {
		t.Fatalf("pvalue = %q", got)
	}
}

func TestNewSummaryFromTable(t *testing.T) {
	schema := personperiod.Schema{Subject: "ID", Cluster: "School", Occasions: []string{"w1", "w2"}, Outcome: "Score", Time: "Time"}
	long := personperiod.NewTable(schema, []personperiod.Record{
		{Subject: table.Num(1), Cluster: table.Str("A"), Occasion: "w1", Outcome: table.Num(10), Time: table.Num(0)},
		{Subject: table.Num(1), Cluster: table.Str("A"), Occasion: "w2", Outcome: table.NA(), Time: table.NA()},
		{Subject: table.Num(2), Cluster: table.Str("A"), Occasion: "w1", Outcome: table.Num(14), Time: table.Num(0)},
		{Subject: table.Num(2), Cluster: table.Str("A"), Occasion: "w2", Outcome: table.Num(18), Time: table.NA()},
	}, true)
	growth, _ := sampleFits()
	s := NewSummary("run-9", "blob:datasets/wide.csv", long, []*mixed.Fit{growth}, nil)
	if s.Subjects != 2 || s.Rows != 4 || s.Missing != 1 || s.Unmapped != 2 {
		t.Fatalf("unexpected counts %+v", s)
	}
	if len(s.Occasions) != 2 || s.Occasions[0].N != 2 || len(s.Fits) != 1 || s.Comparison != nil {
		t.Fatalf("unexpected summary %+v", s)
	}
	var buf bytes.Buffer
	if err := Write(&buf, s); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !strings.Contains(buf.String(), "Model growth") || strings.Contains(buf.String(), "Likelihood-ratio") {
		t.Fatalf("unexpected report:\n%s", buf.String())
	}
}
