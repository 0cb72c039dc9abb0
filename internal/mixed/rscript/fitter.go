// Package rscript fits mixed models by running lme4 through the Rscript executable.
//
// Each fit writes the person-period table to a private temporary directory,
// renders a short R program, runs it and decodes the JSON it leaves behind. The
// directory is removed when the fit returns.
package rscript

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"

	"longitudinal/internal/mixed"
	"longitudinal/internal/personperiod"
)

//go:embed lmer.R.tmpl
var scriptSource string

var scriptTemplate = template.Must(template.New("lmer").Parse(scriptSource))

// Config controls how Rscript is invoked.
type Config struct {
	// Rscript is the executable path; defaults to "Rscript" on PATH.
	Rscript string
	// Timeout bounds a single fit. Zero means no limit beyond the caller's context.
	Timeout time.Duration
	// WorkDir is where per-fit temporary directories are created (default os.TempDir).
	WorkDir string
}

type runner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Fitter implements mixed.Fitter.
type Fitter struct {
	cfg Config
	log *zap.Logger
	run runner
}

var _ mixed.Fitter = (*Fitter)(nil)

// New returns a Fitter. A nil logger disables logging.
func New(cfg Config, log *zap.Logger) *Fitter {
	if cfg.Rscript == "" {
		cfg.Rscript = "Rscript"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Fitter{cfg: cfg, log: log, run: execRunner}
}

type scriptParams struct {
	Formula string
	REML    bool
	Factors []string
}

type engineOutput struct {
	Converged        bool                      `json:"converged"`
	Messages         []string                  `json:"messages"`
	Fixed            []mixed.Coefficient       `json:"fixed"`
	Random           []mixed.VarianceComponent `json:"random"`
	ResidualVariance float64                   `json:"residual_variance"`
	NObs             int                       `json:"nobs"`
	Groups           []mixed.GroupCount        `json:"groups"`
	Criterion        float64                   `json:"criterion"`
	LogLik           float64                   `json:"loglik_ml"`
	DF               int                       `json:"df"`
}

// Fit runs lmer for spec on data. Engine failures and fits the optimizer did not
// converge are returned as *mixed.FitError; other engine warnings are kept on
// Fit.Messages.
func (f *Fitter) Fit(ctx context.Context, data *personperiod.Table, spec mixed.ModelSpec) (*mixed.Fit, error) {
	if err := spec.Validate(data); err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp(f.cfg.WorkDir, "lmer-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	dataPath := filepath.Join(dir, "data.csv")
	scriptPath := filepath.Join(dir, "fit.R")
	outPath := filepath.Join(dir, "fit.json")
	if err := writeData(dataPath, data); err != nil {
		return nil, err
	}
	if err := writeScript(scriptPath, spec); err != nil {
		return nil, err
	}

	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}
	formula := spec.Formula.String()
	f.log.Debug("fitting model", zap.String("model", spec.Name), zap.String("formula", formula), zap.Bool("reml", spec.REML))
	start := time.Now()
	_, stderr, err := f.run(ctx, f.cfg.Rscript, "--vanilla", scriptPath, dataPath, outPath)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, &mixed.FitError{Model: spec.Name, Messages: tail(stderr, 5), Err: err}
	}

	raw, err := os.ReadFile(outPath)
	if err != nil {
		return nil, &mixed.FitError{Model: spec.Name, Messages: tail(stderr, 5), Err: fmt.Errorf("engine produced no result: %w", err)}
	}
	var out engineOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &mixed.FitError{Model: spec.Name, Err: fmt.Errorf("decode engine result: %w", err)}
	}
	if !out.Converged {
		return nil, &mixed.FitError{Model: spec.Name, Messages: out.Messages, Err: errors.New("did not converge")}
	}
	f.log.Debug("model fitted", zap.String("model", spec.Name), zap.Duration("elapsed", time.Since(start)), zap.Int("nobs", out.NObs))
	return &mixed.Fit{
		Model:            spec.Name,
		Formula:          formula,
		REML:             spec.REML,
		Fixed:            out.Fixed,
		Random:           out.Random,
		ResidualVariance: out.ResidualVariance,
		NObs:             out.NObs,
		Groups:           out.Groups,
		Criterion:        out.Criterion,
		LogLik:           out.LogLik,
		DF:               out.DF,
		Messages:         out.Messages,
	}, nil
}

func writeData(path string, data *personperiod.Table) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create data file: %w", err)
	}
	if err := data.WriteCSV(file); err != nil {
		_ = file.Close()
		return fmt.Errorf("write data file: %w", err)
	}
	return file.Close()
}

func writeScript(path string, spec mixed.ModelSpec) error {
	var factors []string
	seen := map[string]struct{}{}
	for _, r := range spec.Formula.Random {
		for _, g := range r.Groups {
			if _, ok := seen[g]; !ok && !strings.ContainsAny(g, ":*") {
				seen[g] = struct{}{}
				factors = append(factors, g)
			}
		}
	}
	var buf bytes.Buffer
	params := scriptParams{Formula: spec.Formula.String(), REML: spec.REML, Factors: factors}
	if err := scriptTemplate.Execute(&buf, params); err != nil {
		return fmt.Errorf("render script: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

// tail keeps the last n non-empty lines of engine stderr for diagnostics.
func tail(b []byte, n int) []string {
	var lines []string
	for _, l := range strings.Split(string(b), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
