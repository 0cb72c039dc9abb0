// Package core defines the run persistence contract shared by the store drivers.
package core

import (
	"context"
	"errors"
	"time"

	"longitudinal/internal/mixed"
	"longitudinal/internal/personperiod"
)

// Driver names a persistence backend.
type Driver string

const (
	// DriverNone disables the run store.
	DriverNone Driver = "none"
	// DriverMemory keeps runs for the life of the process.
	DriverMemory Driver = "memory"
	// DriverSQLite writes runs to an embedded database file.
	DriverSQLite Driver = "sqlite"
	// DriverPostgres writes runs to a PostgreSQL server.
	DriverPostgres Driver = "postgres"
)

var (
	// ErrRunNotFound is returned when a run id is unknown.
	ErrRunNotFound = errors.New("persistence: run not found")
	// ErrRunExists is returned when a run id is saved twice.
	ErrRunExists = errors.New("persistence: run already exists")
)

// Run is the catalogue entry for one analysis run.
type Run struct {
	ID        string              `json:"id"`
	CreatedAt time.Time           `json:"created_at"`
	Source    string              `json:"source"`
	Subjects  int                 `json:"subjects"`
	Rows      int                 `json:"rows"`
	Missing   int                 `json:"missing"`
	Recoded   bool                `json:"recoded"`
	Schema    personperiod.Schema `json:"schema"`
}

// RunRecord is everything saved for a run. Fits and Comparison may be empty
// when only the reshape ran.
type RunRecord struct {
	Run        Run
	Data       *personperiod.Table
	Fits       []*mixed.Fit
	Comparison *mixed.Comparison
}

// Store persists analysis runs. Runs are written once and never updated.
type Store interface {
	SaveRun(ctx context.Context, rec RunRecord) error
	// ListRuns returns every run, newest first.
	ListRuns(ctx context.Context) ([]Run, error)
	// LoadRun reads back everything SaveRun wrote for id.
	LoadRun(ctx context.Context, id string) (*RunRecord, error)
	LoadPersonPeriod(ctx context.Context, id string) (*personperiod.Table, error)
	LoadFits(ctx context.Context, id string) ([]*mixed.Fit, error)
	Close() error
	Driver() Driver
}

// CloneComparison copies c; nil stays nil.
func CloneComparison(c *mixed.Comparison) *mixed.Comparison {
	if c == nil {
		return nil
	}
	out := *c
	return &out
}

// CloneFits deep-copies fits so stores never share mutable slices with callers.
func CloneFits(fits []*mixed.Fit) []*mixed.Fit {
	out := make([]*mixed.Fit, 0, len(fits))
	for _, f := range fits {
		if f == nil {
			continue
		}
		c := *f
		c.Fixed = append([]mixed.Coefficient(nil), f.Fixed...)
		c.Random = append([]mixed.VarianceComponent(nil), f.Random...)
		c.Groups = append([]mixed.GroupCount(nil), f.Groups...)
		c.Messages = append([]string(nil), f.Messages...)
		out = append(out, &c)
	}
	return out
}
