package mixed

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// ErrNotNested is returned when two fits cannot be compared with a likelihood-ratio test.
var ErrNotNested = errors.New("mixed: models are not nested")

// FitStats are the information criteria reported for one model.
type FitStats struct {
	Model    string  `json:"model"`
	DF       int     `json:"df"`
	AIC      float64 `json:"aic"`
	BIC      float64 `json:"bic"`
	LogLik   float64 `json:"loglik"`
	Deviance float64 `json:"deviance"`
}

// Comparison is a likelihood-ratio test of a reduced model against a fuller one.
type Comparison struct {
	Reduced FitStats `json:"reduced"`
	Full    FitStats `json:"full"`
	Chisq   float64  `json:"chisq"`
	DFDiff  int      `json:"df_diff"`
	PValue  float64  `json:"p_value"`
}

// Stats derives AIC, BIC and deviance from the ML log-likelihood.
func Stats(f *Fit) FitStats {
	k := float64(f.DF)
	dev := -2 * f.LogLik
	return FitStats{
		Model:    f.Model,
		DF:       f.DF,
		AIC:      dev + 2*k,
		BIC:      dev + k*math.Log(float64(f.NObs)),
		LogLik:   f.LogLik,
		Deviance: dev,
	}
}

// Compare runs the likelihood-ratio test between two fits on the same data. The
// fit with fewer parameters is the reduced model regardless of argument order.
// The statistic is floored at zero, as lme4's anova does.
func Compare(a, b *Fit) (*Comparison, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("%w: missing fit", ErrNotNested)
	}
	if a.NObs != b.NObs {
		return nil, fmt.Errorf("%w: %q has %d observations, %q has %d", ErrNotNested, a.Model, a.NObs, b.Model, b.NObs)
	}
	if a.DF == b.DF {
		return nil, fmt.Errorf("%w: %q and %q have the same number of parameters (%d)", ErrNotNested, a.Model, b.Model, a.DF)
	}
	reduced, full := a, b
	if reduced.DF > full.DF {
		reduced, full = full, reduced
	}
	rs, fs := Stats(reduced), Stats(full)
	chisq := math.Max(0, rs.Deviance-fs.Deviance)
	df := full.DF - reduced.DF
	return &Comparison{
		Reduced: rs,
		Full:    fs,
		Chisq:   chisq,
		DFDiff:  df,
		PValue:  distuv.ChiSquared{K: float64(df)}.Survival(chisq),
	}, nil
}
