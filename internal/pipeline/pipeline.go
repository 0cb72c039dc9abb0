// Package pipeline runs the analysis end to end: load the wide dataset, reshape
// it to person-period form, recode occasions to time, fit the configured models,
// compare two of them and write the report. Stages run strictly in order and a
// failure stops the run; nothing is retried.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"longitudinal/internal/blob"
	"longitudinal/internal/loader"
	"longitudinal/internal/metrics"
	"longitudinal/internal/mixed"
	"longitudinal/internal/persistence"
	"longitudinal/internal/personperiod"
	"longitudinal/internal/report"
	"longitudinal/internal/table"
)

// Stage names, used for logs, metrics and error context.
const (
	StageLoad     = "load"
	StageValidate = "validate"
	StageReshape  = "reshape"
	StageRecode   = "recode"
	StagePersist  = "persist"
	StageFit      = "fit"
	StageCompare  = "compare"
	StageReport   = "report"
	StageSave     = "save"
)

// Artifact names under runs/<run-id>/.
const (
	ArtifactPersonPeriod = "person_period.csv"
	ArtifactFits         = "fits.json"
	ArtifactReport       = "report.txt"
)

// Input locates the wide dataset. BlobKey takes precedence over Path.
type Input struct {
	Path    string
	BlobKey string
	Loader  loader.Options
}

func (in Input) source() string {
	if in.BlobKey != "" {
		return "blob:" + in.BlobKey
	}
	return in.Path
}

// Options describe one run.
type Options struct {
	Input  Input
	Schema personperiod.Schema
	Policy personperiod.Policy
	Models []mixed.ModelSpec
	// Compare names the two models for the likelihood-ratio test; empty skips it.
	Compare []string
}

// Deps are the collaborators a run uses. Every field but Log is optional: without
// a Fitter the run stops after the reshape, without Blob no artifacts are written
// and datasets can only come from Path, without Store nothing is catalogued.
type Deps struct {
	Fitter  mixed.Fitter
	Blob    blob.Store
	Store   persistence.Store
	Metrics *metrics.Recorder
	Log     *zap.Logger

	Now   func() time.Time
	NewID func() string
}

// Result is what a run produced.
type Result struct {
	RunID      string
	CreatedAt  time.Time
	Source     string
	Wide       *table.Table
	Long       *personperiod.Table
	Unmapped   int
	Fits       []*mixed.Fit
	Comparison *mixed.Comparison
	Report     string
	Artifacts  []string
}

// Pipeline executes runs against a fixed set of collaborators.
type Pipeline struct {
	deps Deps
	log  *zap.Logger
}

// New returns a pipeline. Missing clock and id generators default to time.Now
// and random UUIDs.
func New(deps Deps) *Pipeline {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = func() string { return uuid.NewString() }
	}
	return &Pipeline{deps: deps, log: deps.Log}
}

// stage runs fn, logging and observing its outcome. Errors are wrapped with the stage name.
func (p *Pipeline) stage(ctx context.Context, runID, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	p.deps.Metrics.Observe(ctx, name, err == nil, elapsed)
	if err != nil {
		p.log.Error("stage failed", zap.String("run_id", runID), zap.String("stage", name), zap.Duration("elapsed", elapsed), zap.Error(err))
		return fmt.Errorf("%s: %w", name, err)
	}
	p.log.Info("stage complete", zap.String("run_id", runID), zap.String("stage", name), zap.Duration("elapsed", elapsed))
	return nil
}

// Reshape loads, validates, reshapes and recodes without fitting or saving anything.
func (p *Pipeline) Reshape(ctx context.Context, opts Options) (*Result, error) {
	res := &Result{RunID: p.deps.NewID(), CreatedAt: p.deps.Now().UTC(), Source: opts.Input.source()}
	if err := p.prepare(ctx, opts, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (p *Pipeline) prepare(ctx context.Context, opts Options, res *Result) error {
	id := res.RunID
	if err := p.stage(ctx, id, StageLoad, func() error {
		var err error
		if opts.Input.BlobKey != "" {
			if p.deps.Blob == nil {
				return fmt.Errorf("blob key %q given without a blob store", opts.Input.BlobKey)
			}
			res.Wide, err = loader.LoadBlob(ctx, p.deps.Blob, opts.Input.BlobKey, opts.Input.Loader)
		} else {
			res.Wide, err = loader.LoadFile(opts.Input.Path, opts.Input.Loader)
		}
		return err
	}); err != nil {
		return err
	}

	if err := p.stage(ctx, id, StageValidate, func() error {
		return opts.Schema.Validate(res.Wide)
	}); err != nil {
		return err
	}

	var long *personperiod.Table
	if err := p.stage(ctx, id, StageReshape, func() error {
		var err error
		long, err = personperiod.Reshape(res.Wide, opts.Schema)
		return err
	}); err != nil {
		return err
	}

	if err := p.stage(ctx, id, StageRecode, func() error {
		coding, err := personperiod.NewTimeCoding(opts.Schema.Occasions)
		if err != nil {
			return err
		}
		rec, err := personperiod.Recode(long, coding, opts.Policy)
		if err != nil {
			return err
		}
		res.Long, res.Unmapped = rec.Table, rec.Unmapped
		return nil
	}); err != nil {
		return err
	}
	if res.Unmapped > 0 {
		p.log.Warn("occasion labels without a time index", zap.String("run_id", id), zap.Int("rows", res.Unmapped))
	}
	p.deps.Metrics.Dataset(res.Wide.Len(), res.Long.Len(), res.Long.MissingOutcomes(), res.Unmapped)
	return nil
}

// Run executes every stage and returns the result. Artifacts are written as
// soon as they exist, so a failed fit still leaves the person-period table behind.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Result, error) {
	res := &Result{RunID: p.deps.NewID(), CreatedAt: p.deps.Now().UTC(), Source: opts.Input.source()}
	id := res.RunID
	p.log.Info("run started", zap.String("run_id", id), zap.String("source", res.Source), zap.Int("models", len(opts.Models)))

	if err := p.prepare(ctx, opts, res); err != nil {
		return nil, err
	}

	if err := p.stage(ctx, id, StagePersist, func() error {
		var buf bytes.Buffer
		if err := res.Long.WriteCSV(&buf); err != nil {
			return err
		}
		return p.putArtifact(ctx, res, ArtifactPersonPeriod, "text/csv", buf.Bytes())
	}); err != nil {
		return nil, err
	}

	if len(opts.Models) > 0 {
		if p.deps.Fitter == nil {
			return nil, fmt.Errorf("%s: no model fitter configured", StageFit)
		}
		if err := p.stage(ctx, id, StageFit, func() error {
			for _, spec := range opts.Models {
				if err := spec.Validate(res.Long); err != nil {
					return err
				}
			}
			for _, spec := range opts.Models {
				if err := ctx.Err(); err != nil {
					return err
				}
				start := time.Now()
				fit, err := p.deps.Fitter.Fit(ctx, res.Long, spec)
				if err != nil {
					return err
				}
				p.log.Info("model fitted", zap.String("run_id", id), zap.String("model", spec.Name),
					zap.Float64("loglik", fit.LogLik), zap.Int("df", fit.DF), zap.Duration("elapsed", time.Since(start)))
				for _, m := range fit.Messages {
					p.log.Warn("model note", zap.String("run_id", id), zap.String("model", spec.Name), zap.String("message", m))
				}
				res.Fits = append(res.Fits, fit)
			}
			return nil
		}); err != nil {
			return nil, err
		}
	}

	if len(opts.Compare) > 0 {
		if err := p.stage(ctx, id, StageCompare, func() error {
			if len(opts.Compare) != 2 {
				return fmt.Errorf("%w: need two model names, got %d", mixed.ErrNotNested, len(opts.Compare))
			}
			a, err := findFit(res.Fits, opts.Compare[0])
			if err != nil {
				return err
			}
			b, err := findFit(res.Fits, opts.Compare[1])
			if err != nil {
				return err
			}
			res.Comparison, err = mixed.Compare(a, b)
			return err
		}); err != nil {
			return nil, err
		}
	}

	if err := p.stage(ctx, id, StageReport, func() error {
		res.Report = report.Render(report.NewSummary(id, res.Source, res.Long, res.Fits, res.Comparison))
		return nil
	}); err != nil {
		return nil, err
	}

	if err := p.stage(ctx, id, StageSave, func() error {
		return p.save(ctx, res)
	}); err != nil {
		return nil, err
	}
	p.log.Info("run finished", zap.String("run_id", id), zap.Strings("artifacts", res.Artifacts))
	return res, nil
}

// fitsDocument is the fits.json layout.
type fitsDocument struct {
	RunID      string            `json:"run_id"`
	Fits       []*mixed.Fit      `json:"fits"`
	Stats      []mixed.FitStats  `json:"stats"`
	Comparison *mixed.Comparison `json:"comparison,omitempty"`
}

func (p *Pipeline) save(ctx context.Context, res *Result) error {
	doc := fitsDocument{RunID: res.RunID, Fits: res.Fits, Comparison: res.Comparison}
	for _, f := range res.Fits {
		doc.Stats = append(doc.Stats, mixed.Stats(f))
	}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode fits: %w", err)
	}
	if err := p.putArtifact(ctx, res, ArtifactFits, "application/json", payload); err != nil {
		return err
	}
	if err := p.putArtifact(ctx, res, ArtifactReport, "text/plain; charset=utf-8", []byte(res.Report)); err != nil {
		return err
	}
	if p.deps.Store == nil {
		return nil
	}
	return p.deps.Store.SaveRun(ctx, persistence.RunRecord{
		Run: persistence.Run{
			ID:        res.RunID,
			CreatedAt: res.CreatedAt,
			Source:    res.Source,
			Subjects:  res.Long.Subjects(),
			Rows:      res.Long.Len(),
			Missing:   res.Long.MissingOutcomes(),
			Recoded:   res.Long.Recoded(),
			Schema:    res.Long.Schema(),
		},
		Data:       res.Long,
		Fits:       res.Fits,
		Comparison: res.Comparison,
	})
}

// ArtifactKey returns the blob key of a run artifact.
func ArtifactKey(runID, name string) string {
	return path.Join("runs", runID, name)
}

func (p *Pipeline) putArtifact(ctx context.Context, res *Result, name, contentType string, data []byte) error {
	if p.deps.Blob == nil {
		return nil
	}
	key := ArtifactKey(res.RunID, name)
	if _, err := p.deps.Blob.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{
		ContentType: contentType,
		Metadata:    map[string]string{"run-id": res.RunID},
	}); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	res.Artifacts = append(res.Artifacts, key)
	return nil
}

func findFit(fits []*mixed.Fit, name string) (*mixed.Fit, error) {
	for _, f := range fits {
		if f.Model == name {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: no fitted model named %q", mixed.ErrNotNested, name)
}
