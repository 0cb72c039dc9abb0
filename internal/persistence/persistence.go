// Package persistence opens the configured run store.
package persistence

import (
	"context"
	"fmt"

	"longitudinal/internal/infra/persistence/memory"
	"longitudinal/internal/infra/persistence/postgres"
	"longitudinal/internal/infra/persistence/sqlite"
	"longitudinal/internal/persistence/core"
)

// Aliases of the core contract so callers import a single package.
type (
	Driver    = core.Driver
	Run       = core.Run
	RunRecord = core.RunRecord
	Store     = core.Store
)

// Supported drivers; see core for their meaning.
const (
	DriverNone     = core.DriverNone
	DriverMemory   = core.DriverMemory
	DriverSQLite   = core.DriverSQLite
	DriverPostgres = core.DriverPostgres
)

// Errors returned by every store.
var (
	ErrRunNotFound = core.ErrRunNotFound
	ErrRunExists   = core.ErrRunExists
)

// Open returns the store for driver. It returns a nil Store when persistence is
// disabled ("" or "none").
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch Driver(driver) {
	case "", DriverNone:
		return nil, nil
	case DriverMemory:
		return memory.New(), nil
	case DriverSQLite:
		s, err := sqlite.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverPostgres:
		s, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown persistence driver %q", driver)
	}
}
