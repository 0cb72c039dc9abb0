package mixed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"longitudinal/internal/personperiod"
)

var (
	// ErrModelFit marks a fit the external engine could not complete or did not converge.
	ErrModelFit = errors.New("mixed: model fit failed")
	// ErrSchemaMismatch is returned when a formula references a column the
	// person-period table does not have.
	ErrSchemaMismatch = fmt.Errorf("mixed: %w", personperiod.ErrSchemaMismatch)
)

// ModelSpec names a model and its formula. REML selects restricted maximum
// likelihood for the reported estimates; comparisons always use ML.
type ModelSpec struct {
	Name    string
	Formula Formula
	REML    bool
}

// Validate checks that every referenced column exists in the person-period table
// and that the model has a random part.
func (m ModelSpec) Validate(long *personperiod.Table) error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("%w: model name required", ErrFormula)
	}
	if !m.Formula.HasRandom() {
		return fmt.Errorf("%w: model %q has no random effects", ErrFormula, m.Name)
	}
	available := make(map[string]struct{})
	for _, c := range long.Schema().LongColumns() {
		available[c] = struct{}{}
	}
	var missing []string
	for _, c := range m.Formula.Columns() {
		if _, ok := available[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: model %q references unknown column(s) %s", ErrSchemaMismatch, m.Name, strings.Join(missing, ", "))
	}
	return nil
}

// Fitter fits a model to a person-period table.
type Fitter interface {
	Fit(ctx context.Context, data *personperiod.Table, spec ModelSpec) (*Fit, error)
}

// Coefficient is one fixed-effect row.
type Coefficient struct {
	Term     string  `json:"term"`
	Estimate float64 `json:"estimate"`
	StdError float64 `json:"std_error"`
	TValue   float64 `json:"t_value"`
}

// VarianceComponent is one random-effect variance (or the residual).
type VarianceComponent struct {
	Group    string  `json:"group"`
	Term     string  `json:"term"`
	Variance float64 `json:"variance"`
	StdDev   float64 `json:"std_dev"`
}

// GroupCount is the number of levels of one grouping factor.
type GroupCount struct {
	Group  string `json:"group"`
	Levels int    `json:"levels"`
}

// Fit holds the estimates an engine reported for one model.
type Fit struct {
	Model   string `json:"model"`
	Formula string `json:"formula"`
	REML    bool   `json:"reml"`

	Fixed            []Coefficient       `json:"fixed"`
	Random           []VarianceComponent `json:"random"`
	ResidualVariance float64             `json:"residual_variance"`
	NObs             int                 `json:"nobs"`
	Groups           []GroupCount        `json:"groups"`

	// Criterion is the REML criterion (or ML deviance when REML is false) at convergence.
	Criterion float64 `json:"criterion"`
	// LogLik is the maximum-likelihood log-likelihood, refitted with ML when the
	// estimates are REML.
	LogLik float64 `json:"loglik_ml"`
	// DF counts estimated parameters: fixed effects, variance parameters, residual.
	DF int `json:"df"`
	// Messages are engine warnings that did not stop the fit, such as predictor
	// scaling or singular-fit notes.
	Messages []string `json:"messages,omitempty"`
}

// ICC returns the share of total variance attributable to each random intercept
// group, the usual way to read a random-intercept model.
func (f *Fit) ICC() map[string]float64 {
	total := f.ResidualVariance
	for _, vc := range f.Random {
		if vc.Term == "(Intercept)" {
			total += vc.Variance
		}
	}
	out := make(map[string]float64)
	if total <= 0 {
		return out
	}
	for _, vc := range f.Random {
		if vc.Term == "(Intercept)" {
			out[vc.Group] = vc.Variance / total
		}
	}
	return out
}

// FitError reports a failed or non-converged fit with the engine's diagnostics.
// Fits are deterministic, so callers should surface the error rather than retry.
type FitError struct {
	Model    string
	Messages []string
	Err      error
}

func (e *FitError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "mixed: model %q failed", e.Model)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if len(e.Messages) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(e.Messages, "; "))
	}
	return b.String()
}

func (e *FitError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrModelFit}
	}
	return []error{ErrModelFit, e.Err}
}
