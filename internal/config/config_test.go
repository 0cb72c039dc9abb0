package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	specs, err := cfg.ModelSpecs()
	if err != nil {
		t.Fatalf("ModelSpecs: %v", err)
	}
	if len(specs) != 3 || !specs[2].REML || specs[2].Formula.String() != "Score ~ Time + (1 | School/ID)" {
		t.Fatalf("unexpected default models %+v", specs)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Input.Path != "data/reading.csv" || cfg.Fitter.Timeout.Duration != 5*time.Minute {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analysis.yaml")
	doc := `
input:
  path: /data/wide.tsv
  delimiter: "\t"
schema:
  subject: student
  cluster: school
  covariates: [ses]
  occasions: [w1, w2, w3]
  outcome: reading
  time: wave
unmapped: "null"
models:
  - name: ri
    formula: "reading ~ wave + (1 | student)"
    reml: false
  - name: nested
    formula: "reading ~ wave + (1 | school/student)"
compare: [ri, nested]
fitter:
  timeout: 90s
store:
  driver: sqlite
  dsn: runs.db
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if d, _ := cfg.Delimiter(); d != '\t' {
		t.Fatalf("delimiter = %q", d)
	}
	if cfg.Schema.Subject != "student" || len(cfg.Schema.Occasions) != 3 || cfg.Fitter.Timeout.Duration != 90*time.Second {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Fitter.Rscript != "Rscript" {
		t.Fatalf("defaults should survive partial YAML, got %q", cfg.Fitter.Rscript)
	}
	specs, _ := cfg.ModelSpecs()
	if specs[0].REML || !specs[1].REML {
		t.Fatalf("unexpected REML flags %+v", specs)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("fitter:\n  timeout: soon\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected duration parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"LONGITUDINAL_INPUT":              "/tmp/x.csv",
		"LONGITUDINAL_INPUT_COMMENT":      "#",
		"LONGITUDINAL_BLOB_DRIVER":        "s3",
		"LONGITUDINAL_BLOB_S3_BUCKET":     "analysis",
		"LONGITUDINAL_BLOB_S3_PATH_STYLE": "TRUE",
		"LONGITUDINAL_FIT_TIMEOUT":        "30s",
		"LONGITUDINAL_STORE_DRIVER":       "postgres",
		"LONGITUDINAL_STORE_DSN":          "postgres://localhost/analysis",
	}
	cfg := Default()
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	if err := cfg.applyEnv(lookup); err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if cfg.Input.Path != "/tmp/x.csv" || cfg.Blob.S3.Bucket != "analysis" || !cfg.Blob.S3.PathStyle || cfg.Fitter.Timeout.Duration != 30*time.Second {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Input.Comment != "#" {
		t.Fatalf("comment override not applied: %q", cfg.Input.Comment)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	env["LONGITUDINAL_FIT_TIMEOUT"] = "later"
	if err := Default().applyEnv(lookup); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Default()
	cfg.Input.Path = ""
	cfg.Unmapped = "drop"
	cfg.Compare = []string{"growth", "quadratic"}
	cfg.Blob.Driver = "ftp"
	cfg.Store.Driver = "postgres"
	cfg.Models = append(cfg.Models, ModelConfig{Name: "growth", Formula: "Score ~"})
	err := cfg.Validate()
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	for _, want := range []string{"input.path", "drop", `unknown model "quadratic"`, `"ftp"`, "store.dsn", `"growth" defined twice`} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestLoaderOptions(t *testing.T) {
	cfg := Default()
	opts, err := cfg.LoaderOptions()
	if err != nil {
		t.Fatalf("LoaderOptions: %v", err)
	}
	if opts.Delimiter != ',' || opts.Comment != 0 || opts.KeepLeadingSpace {
		t.Fatalf("unexpected defaults %+v", opts)
	}

	cfg.Input.Delimiter = "tab"
	cfg.Input.Comment = "#"
	cfg.Input.KeepLeadingSpace = true
	opts, err = cfg.LoaderOptions()
	if err != nil {
		t.Fatalf("LoaderOptions: %v", err)
	}
	if opts.Delimiter != '\t' || opts.Comment != '#' || !opts.KeepLeadingSpace {
		t.Fatalf("unexpected options %+v", opts)
	}

	for _, comment := range []string{"//", "\t"} {
		cfg.Input.Comment = comment
		if _, err := cfg.LoaderOptions(); !errors.Is(err, ErrInvalid) {
			t.Errorf("comment %q: expected ErrInvalid, got %v", comment, err)
		}
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "comment") {
		t.Fatalf("Validate should report the comment, got %v", err)
	}
}
