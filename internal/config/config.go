// Package config loads the analysis configuration: a YAML file, then
// LONGITUDINAL_* environment overrides, then command-line flags applied by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"longitudinal/internal/infra/blob/s3"
	"longitudinal/internal/loader"
	"longitudinal/internal/mixed"
	"longitudinal/internal/personperiod"
)

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("config: invalid")

// Config is the full run configuration.
type Config struct {
	Input   InputConfig         `yaml:"input"`
	Schema  personperiod.Schema `yaml:"schema"`
	// Unmapped is the policy for occasion labels outside the time coding: strict or null.
	Unmapped string        `yaml:"unmapped"`
	Models   []ModelConfig `yaml:"models"`
	// Compare names the two models tested against each other.
	Compare []string      `yaml:"compare"`
	Fitter  FitterConfig  `yaml:"fitter"`
	Blob    BlobConfig    `yaml:"blob"`
	Store   StoreConfig   `yaml:"store"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// InputConfig locates the wide dataset: a local path, or a key in the blob store.
type InputConfig struct {
	Path      string `yaml:"path"`
	BlobKey   string `yaml:"blob_key"`
	Delimiter string `yaml:"delimiter"`
	// Comment is a single character starting lines the reader skips; empty disables it.
	Comment          string `yaml:"comment"`
	KeepLeadingSpace bool   `yaml:"keep_leading_space"`
}

// ModelConfig is one model in lme4 formula notation.
type ModelConfig struct {
	Name    string `yaml:"name"`
	Formula string `yaml:"formula"`
	// REML defaults to true when omitted.
	REML *bool `yaml:"reml,omitempty"`
}

// FitterConfig configures the lme4 engine.
type FitterConfig struct {
	Rscript string   `yaml:"rscript"`
	Timeout Duration `yaml:"timeout"`
	WorkDir string   `yaml:"work_dir"`
}

// BlobConfig selects where datasets are read from and artifacts written to.
type BlobConfig struct {
	Driver string    `yaml:"driver"`
	Root   string    `yaml:"root"`
	S3     s3.Config `yaml:"s3"`
}

// StoreConfig selects the run database: none, sqlite or postgres.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// MetricsConfig configures the optional Pushgateway push at the end of a run.
type MetricsConfig struct {
	Pushgateway string `yaml:"pushgateway"`
	Job         string `yaml:"job"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Duration is a time.Duration that reads from YAML strings like "5m".
type Duration struct{ time.Duration }

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

// Default returns the configuration for the reading-achievement analysis: an
// unconditional random-intercept model, a growth model with time as a
// time-varying predictor, and the same growth model with students nested in
// schools. The last two are compared.
func Default() *Config {
	return &Config{
		Input:    InputConfig{Path: "data/reading.csv", Delimiter: ","},
		Schema:   personperiod.DefaultSchema(),
		Unmapped: string(personperiod.Strict),
		Models: []ModelConfig{
			{Name: "unconditional", Formula: "Score ~ 1 + (1 | ID)"},
			{Name: "growth", Formula: "Score ~ Time + (1 | ID)"},
			{Name: "nested", Formula: "Score ~ Time + (1 | School/ID)"},
		},
		Compare: []string{"growth", "nested"},
		Fitter:  FitterConfig{Rscript: "Rscript", Timeout: Duration{5 * time.Minute}},
		Blob:    BlobConfig{Driver: "fs", Root: "./artifacts"},
		Store:   StoreConfig{Driver: "none"},
		Metrics: MetricsConfig{Job: "longitudinal"},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults. A missing file yields the defaults; an empty
// path skips the file. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from LONGITUDINAL_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	str("LONGITUDINAL_INPUT", &c.Input.Path)
	str("LONGITUDINAL_INPUT_BLOB_KEY", &c.Input.BlobKey)
	str("LONGITUDINAL_INPUT_COMMENT", &c.Input.Comment)
	str("LONGITUDINAL_UNMAPPED", &c.Unmapped)
	str("LONGITUDINAL_RSCRIPT", &c.Fitter.Rscript)
	str("LONGITUDINAL_BLOB_DRIVER", &c.Blob.Driver)
	str("LONGITUDINAL_BLOB_FS_ROOT", &c.Blob.Root)
	str("LONGITUDINAL_BLOB_S3_BUCKET", &c.Blob.S3.Bucket)
	str("LONGITUDINAL_BLOB_S3_REGION", &c.Blob.S3.Region)
	str("LONGITUDINAL_BLOB_S3_ENDPOINT", &c.Blob.S3.Endpoint)
	str("LONGITUDINAL_STORE_DRIVER", &c.Store.Driver)
	str("LONGITUDINAL_STORE_DSN", &c.Store.DSN)
	str("LONGITUDINAL_PUSHGATEWAY", &c.Metrics.Pushgateway)
	str("LONGITUDINAL_LOG_LEVEL", &c.Log.Level)
	if v, ok := lookup("LONGITUDINAL_BLOB_S3_PATH_STYLE"); ok {
		c.Blob.S3.PathStyle = strings.EqualFold(v, "true")
	}
	if v, ok := lookup("LONGITUDINAL_FIT_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: LONGITUDINAL_FIT_TIMEOUT: %v", ErrInvalid, err)
		}
		c.Fitter.Timeout = Duration{d}
	}
	return nil
}

// Delimiter returns the input delimiter rune. Escaped tabs ("\t") are accepted.
func (c *Config) Delimiter() (rune, error) {
	d := c.Input.Delimiter
	if d == "" {
		return ',', nil
	}
	if d == `\t` || d == "tab" {
		return '\t', nil
	}
	if unq, err := strconv.Unquote(`"` + d + `"`); err == nil {
		d = unq
	}
	r := []rune(d)
	if len(r) != 1 {
		return 0, fmt.Errorf("%w: delimiter %q must be a single character", ErrInvalid, c.Input.Delimiter)
	}
	return r[0], nil
}

// LoaderOptions converts the input section into reader options.
func (c *Config) LoaderOptions() (loader.Options, error) {
	delim, err := c.Delimiter()
	if err != nil {
		return loader.Options{}, err
	}
	opts := loader.Options{Delimiter: delim, KeepLeadingSpace: c.Input.KeepLeadingSpace}
	if c.Input.Comment != "" {
		r := []rune(c.Input.Comment)
		if len(r) != 1 {
			return loader.Options{}, fmt.Errorf("%w: comment %q must be a single character", ErrInvalid, c.Input.Comment)
		}
		if r[0] == delim {
			return loader.Options{}, fmt.Errorf("%w: comment and delimiter are both %q", ErrInvalid, c.Input.Comment)
		}
		opts.Comment = r[0]
	}
	return opts, nil
}

// ModelSpecs parses every configured formula.
func (c *Config) ModelSpecs() ([]mixed.ModelSpec, error) {
	specs := make([]mixed.ModelSpec, 0, len(c.Models))
	for _, m := range c.Models {
		f, err := mixed.ParseFormula(m.Formula)
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", m.Name, err)
		}
		reml := true
		if m.REML != nil {
			reml = *m.REML
		}
		specs = append(specs, mixed.ModelSpec{Name: m.Name, Formula: f, REML: reml})
	}
	return specs, nil
}

// Policy returns the parsed unmapped-label policy.
func (c *Config) Policy() (personperiod.Policy, error) {
	return personperiod.ParsePolicy(c.Unmapped)
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var problems []string
	if c.Input.Path == "" && c.Input.BlobKey == "" {
		problems = append(problems, "input.path or input.blob_key is required")
	}
	if _, err := c.LoaderOptions(); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := c.Policy(); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := personperiod.NewTimeCoding(c.Schema.Occasions); err != nil {
		problems = append(problems, err.Error())
	}
	names := make(map[string]struct{}, len(c.Models))
	for _, m := range c.Models {
		if m.Name == "" {
			problems = append(problems, "model without a name")
			continue
		}
		if _, dup := names[m.Name]; dup {
			problems = append(problems, fmt.Sprintf("model %q defined twice", m.Name))
		}
		names[m.Name] = struct{}{}
		if _, err := mixed.ParseFormula(m.Formula); err != nil {
			problems = append(problems, fmt.Sprintf("model %q: %v", m.Name, err))
		}
	}
	switch len(c.Compare) {
	case 0:
	case 2:
		for _, n := range c.Compare {
			if _, ok := names[n]; !ok {
				problems = append(problems, fmt.Sprintf("compare references unknown model %q", n))
			}
		}
		if c.Compare[0] == c.Compare[1] {
			problems = append(problems, "compare needs two different models")
		}
	default:
		problems = append(problems, "compare takes exactly two model names")
	}
	switch c.Blob.Driver {
	case "", "fs", "memory":
	case "s3":
		if c.Blob.S3.Bucket == "" {
			problems = append(problems, "blob.s3.bucket is required for the s3 driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown blob driver %q", c.Blob.Driver))
	}
	switch c.Store.Driver {
	case "", "none", "memory", "sqlite":
	case "postgres":
		if c.Store.DSN == "" {
			problems = append(problems, "store.dsn is required for postgres")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown store driver %q", c.Store.Driver))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}
