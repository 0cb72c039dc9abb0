package mixed

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseFormula(t *testing.T) {
	cases := []struct {
		in        string
		canonical string
		columns   []string
	}{
		{"Score ~ 1 + (1 | ID)", "Score ~ 1 + (1 | ID)", []string{"Score", "ID"}},
		{"Score ~ Time + (1|ID)", "Score ~ Time + (1 | ID)", []string{"Score", "Time", "ID"}},
		{"Score ~ Time + (1 | School/ID)", "Score ~ Time + (1 | School/ID)", []string{"Score", "Time", "School", "ID"}},
		{"Score ~ Time + Process + Time:Goal + (Time | ID)", "Score ~ Time + Process + Time:Goal + (1 + Time | ID)", []string{"Score", "Time", "Process", "Goal", "ID"}},
		{"Score ~ 0 + Time + (0 + Time | ID)", "Score ~ 0 + Time + (0 + Time | ID)", []string{"Score", "Time", "ID"}},
		{"Score ~ Time - 1 + (1 | ID)", "Score ~ 0 + Time + (1 | ID)", []string{"Score", "Time", "ID"}},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			f, err := ParseFormula(tc.in)
			if err != nil {
				t.Fatalf("ParseFormula: %v", err)
			}
			if got := f.String(); got != tc.canonical {
				t.Fatalf("String() = %q, want %q", got, tc.canonical)
			}
			if diff := cmp.Diff(tc.columns, f.Columns()); diff != "" {
				t.Fatalf("columns (-want +got):\n%s", diff)
			}
			again, err := ParseFormula(f.String())
			if err != nil {
				t.Fatalf("reparse canonical form: %v", err)
			}
			if diff := cmp.Diff(f, again); diff != "" {
				t.Fatalf("canonical form does not round-trip (-first +second):\n%s", diff)
			}
		})
	}
}

func TestParseFormulaNested(t *testing.T) {
	f := MustParseFormula("Score ~ Time + (1 | School/ID)")
	want := []RandomTerm{{Intercept: true, Groups: []string{"School", "ID"}}}
	if diff := cmp.Diff(want, f.Random); diff != "" {
		t.Fatalf("random terms (-want +got):\n%s", diff)
	}
}

func TestParseFormulaErrors(t *testing.T) {
	for _, in := range []string{
		"Score",
		"~ Time",
		"Score ~ ",
		"Score ~ Time +",
		"Score ~ Time + + Goal",
		"Score ~ (1 | ID",
		"Score ~ 1 | ID)",
		"Score ~ (1 ID)",
		"Score ~ (0 | ID)",
		"Score ~ Time - Goal",
		"Score ~ 2x + (1 | ID)",
	} {
		if _, err := ParseFormula(in); !errors.Is(err, ErrFormula) {
			t.Errorf("ParseFormula(%q): expected ErrFormula, got %v", in, err)
		}
	}
}
