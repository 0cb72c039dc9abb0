package testutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type recorder struct{ msg string }

func (r *recorder) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func TestPredicates(t *testing.T) {
	cases := []struct {
		path  string
		infra bool
		drv   bool
	}{
		{"longitudinal/internal/infra/blob/s3", true, false},
		{"longitudinal/internal/persistence", true, false},
		{"longitudinal/internal/blob", true, false},
		{"longitudinal/internal/blob/core", false, false},
		{"longitudinal/internal/personperiod", false, false},
		{"database/sql", false, true},
		{"database/sql/driver", false, true},
		{"github.com/jackc/pgx/v5/stdlib", false, true},
		{"modernc.org/sqlite", false, true},
		{"github.com/aws/aws-sdk-go-v2/service/s3", false, true},
		{"gonum.org/v1/gonum/stat", false, false},
	}
	for _, c := range cases {
		if got := InfraImportForbidden(c.path); got != c.infra {
			t.Errorf("InfraImportForbidden(%q)=%v want %v", c.path, got, c.infra)
		}
		if got := DriverImportForbidden(c.path); got != c.drv {
			t.Errorf("DriverImportForbidden(%q)=%v want %v", c.path, got, c.drv)
		}
	}
	either := Either(InfraImportForbidden, DriverImportForbidden)
	if !either("modernc.org/sqlite") || either("fmt") {
		t.Fatalf("Either combined predicates incorrectly")
	}
}

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	write := func(name, src string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write("ok.go", "package tmp\nimport \"fmt\"\nfunc X() { fmt.Println(1) }\n")
	write("db.go", "package tmp\nimport _ \"database/sql\"\n")
	write("db_test.go", "package tmp\nimport _ \"modernc.org/sqlite\"\n")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	viols, err := directImportViolations(dir, DriverImportForbidden)
	if err != nil {
		t.Fatalf("directImportViolations: %v", err)
	}
	if len(viols) != 1 || viols[0] != "database/sql (in db.go)" {
		t.Fatalf("unexpected violations %v", viols)
	}

	var r recorder
	failIfDirectViolations(&r, "no sql", viols)
	if !strings.Contains(r.msg, "no sql") || !strings.Contains(r.msg, "db.go") {
		t.Fatalf("unexpected failure message %q", r.msg)
	}
	AssertNoDirectImports(t, dir, func(string) bool { return false }, "none")

	if _, err := directImportViolations(filepath.Join(dir, "absent"), DriverImportForbidden); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}

func TestTransitiveViolationsUsesLoader(t *testing.T) {
	prev := loadDeps
	t.Cleanup(func() { loadDeps = prev })
	loadDeps = func(string) ([]string, error) {
		return []string{"fmt", "longitudinal/internal/table", "modernc.org/sqlite"}, nil
	}
	viols, err := transitiveDependencyViolations(".", DriverImportForbidden)
	if err != nil || len(viols) != 1 || viols[0] != "modernc.org/sqlite" {
		t.Fatalf("viols=%v err=%v", viols, err)
	}
	var r recorder
	failIfTransitiveViolations(&r, "core", viols)
	if !strings.Contains(r.msg, "modernc.org/sqlite") {
		t.Fatalf("unexpected message %q", r.msg)
	}

	loadDeps = func(string) ([]string, error) { return nil, errors.New("boom") }
	if _, err := transitiveDependencyViolations(".", DriverImportForbidden); err == nil {
		t.Fatalf("expected loader error")
	}
}

func TestAssertNoTransitiveDependencyOnThisPackage(t *testing.T) {
	AssertNoTransitiveDependency(t, ".", InfraImportForbidden, "testutil stays standalone")
}
