package personperiod

import (
	"fmt"
	"strings"

	"longitudinal/internal/table"
)

// Schema names the wide-table columns the reshape reads and the long-table
// columns it produces.
type Schema struct {
	Subject    string   `yaml:"subject" json:"subject"`
	Cluster    string   `yaml:"cluster" json:"cluster"`
	Covariates []string `yaml:"covariates" json:"covariates"`
	Occasions  []string `yaml:"occasions" json:"occasions"`
	Outcome    string   `yaml:"outcome" json:"outcome"`
	Time       string   `yaml:"time" json:"time"`
	Occasion   string   `yaml:"occasion" json:"occasion"`
}

// DefaultSchema describes the reading-achievement dataset: students nested in
// schools, four time-invariant predictors and six test occasions.
func DefaultSchema() Schema {
	return Schema{
		Subject:    "ID",
		Cluster:    "School",
		Covariates: []string{"Process", "Application", "Grammar", "Goal"},
		Occasions:  []string{"occasion1", "occasion2", "occasion3", "occasion4", "occasion5", "occasion6"},
		Outcome:    "Score",
		Time:       "Time",
		Occasion:   "Occasion",
	}
}

// LongColumns returns the long-table header in export order.
func (s Schema) LongColumns() []string {
	cols := []string{s.Subject, s.Cluster}
	cols = append(cols, s.Covariates...)
	return append(cols, s.occasionColumn(), s.Outcome, s.Time)
}

func (s Schema) occasionColumn() string {
	if s.Occasion == "" {
		return "Occasion"
	}
	return s.Occasion
}

// Validate checks the schema against a wide table and reports every problem at once.
func (s Schema) Validate(wide *table.Table) error {
	var problems []string
	if len(s.Occasions) == 0 {
		problems = append(problems, "no occasion columns configured")
	}
	if s.Outcome == "" || s.Time == "" {
		problems = append(problems, "outcome and time column names are required")
	}
	required := append([]string{s.Subject, s.Cluster}, s.Covariates...)
	for _, name := range required {
		if _, ok := wide.Index(name); !ok {
			problems = append(problems, fmt.Sprintf("missing column %q", name))
		}
	}
	seen := make(map[string]struct{}, len(s.Occasions))
	for _, name := range s.Occasions {
		if _, dup := seen[name]; dup {
			problems = append(problems, fmt.Sprintf("occasion %q listed twice", name))
			continue
		}
		seen[name] = struct{}{}
		col, err := wide.Column(name)
		if err != nil {
			problems = append(problems, fmt.Sprintf("missing column %q", name))
			continue
		}
		if col.Kind == table.String {
			problems = append(problems, fmt.Sprintf("occasion column %q is not numeric", name))
		}
	}
	used := make(map[string]struct{}, len(required))
	for _, name := range required {
		if _, dup := used[name]; dup {
			problems = append(problems, fmt.Sprintf("column %q used more than once as subject, cluster or covariate", name))
			continue
		}
		used[name] = struct{}{}
		if _, occ := seen[name]; occ {
			problems = append(problems, fmt.Sprintf("column %q is also an occasion column", name))
		}
	}
	derived := []string{s.occasionColumn(), s.Outcome, s.Time}
	reserved := make(map[string]struct{}, len(derived))
	for _, name := range derived {
		if _, dup := reserved[name]; dup && name != "" {
			problems = append(problems, fmt.Sprintf("derived column name %q used twice", name))
		}
		reserved[name] = struct{}{}
	}
	for _, name := range required {
		if _, clash := reserved[name]; clash {
			problems = append(problems, fmt.Sprintf("column %q collides with a derived long-table column", name))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrSchemaMismatch, strings.Join(problems, "; "))
	}
	return nil
}
