package mixed

import (
	"errors"
	"math"
	"testing"
)

func TestCompare(t *testing.T) {
	reduced := &Fit{Model: "growth", DF: 4, LogLik: -100, NObs: 120}
	full := &Fit{Model: "nested", DF: 5, LogLik: -95, NObs: 120}

	// Argument order must not matter.
	for _, pair := range [][2]*Fit{{reduced, full}, {full, reduced}} {
		cmp, err := Compare(pair[0], pair[1])
		if err != nil {
			t.Fatalf("Compare: %v", err)
		}
		if cmp.Reduced.Model != "growth" || cmp.Full.Model != "nested" {
			t.Fatalf("models not ordered by df: %+v", cmp)
		}
		if cmp.Chisq != 10 || cmp.DFDiff != 1 {
			t.Fatalf("unexpected statistic %+v", cmp)
		}
		if math.Abs(cmp.PValue-0.0015654022580025) > 1e-9 {
			t.Fatalf("unexpected p-value %v", cmp.PValue)
		}
		if cmp.Reduced.AIC != 208 || cmp.Full.AIC != 200 {
			t.Fatalf("unexpected AIC %v %v", cmp.Reduced.AIC, cmp.Full.AIC)
		}
		wantBIC := 200 + 4*math.Log(120)
		if math.Abs(cmp.Reduced.BIC-wantBIC) > 1e-9 {
			t.Fatalf("unexpected BIC %v, want %v", cmp.Reduced.BIC, wantBIC)
		}
		if cmp.Reduced.Deviance != 200 || cmp.Full.Deviance != 190 {
			t.Fatalf("unexpected deviance %+v", cmp)
		}
	}
}

func TestCompareFloorsNegativeStatistic(t *testing.T) {
	cmp, err := Compare(&Fit{DF: 3, LogLik: -90, NObs: 10}, &Fit{DF: 4, LogLik: -91, NObs: 10})
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if cmp.Chisq != 0 || cmp.PValue != 1 {
		t.Fatalf("expected chisq 0 and p 1, got %+v", cmp)
	}
}

func TestCompareRejectsNonNested(t *testing.T) {
	cases := map[string][2]*Fit{
		"nil":       {nil, {DF: 3}},
		"same df":   {{DF: 3, NObs: 10}, {DF: 3, NObs: 10}},
		"diff nobs": {{DF: 3, NObs: 10}, {DF: 4, NObs: 12}},
	}
	for name, pair := range cases {
		if _, err := Compare(pair[0], pair[1]); !errors.Is(err, ErrNotNested) {
			t.Errorf("%s: expected ErrNotNested, got %v", name, err)
		}
	}
}
