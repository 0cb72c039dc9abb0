// Package memory keeps analysis runs in process memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"longitudinal/internal/mixed"
	"longitudinal/internal/persistence/core"
	"longitudinal/internal/personperiod"
)

var _ core.Store = (*Store)(nil)

type entry struct {
	run     core.Run
	records []personperiod.Record
	fits    []*mixed.Fit
	cmp     *mixed.Comparison
}

// Store is a mutex-guarded map of runs.
type Store struct {
	mu   sync.RWMutex
	runs map[string]entry
}

// New constructs an empty store.
func New() *Store {
	return &Store{runs: make(map[string]entry)}
}

// Driver identifies the backend.
func (s *Store) Driver() core.Driver { return core.DriverMemory }

// SaveRun stores a copy of rec.
func (s *Store) SaveRun(_ context.Context, rec core.RunRecord) error {
	if rec.Run.ID == "" {
		return fmt.Errorf("memory: run id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[rec.Run.ID]; ok {
		return fmt.Errorf("%w: %s", core.ErrRunExists, rec.Run.ID)
	}
	e := entry{run: rec.Run, fits: core.CloneFits(rec.Fits), cmp: core.CloneComparison(rec.Comparison)}
	if rec.Data != nil {
		e.records = rec.Data.Records()
	}
	s.runs[rec.Run.ID] = e
	return nil
}

// ListRuns returns every run, newest first.
func (s *Store) ListRuns(context.Context) ([]core.Run, error) {
	s.mu.RLock()
	out := make([]core.Run, 0, len(s.runs))
	for _, e := range s.runs {
		out = append(out, e.run)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// LoadRun returns copies of everything stored for id.
func (s *Store) LoadRun(_ context.Context, id string) (*core.RunRecord, error) {
	s.mu.RLock()
	e, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrRunNotFound, id)
	}
	return &core.RunRecord{
		Run:        e.run,
		Data:       personperiod.NewTable(e.run.Schema, e.records, e.run.Recoded),
		Fits:       core.CloneFits(e.fits),
		Comparison: core.CloneComparison(e.cmp),
	}, nil
}

// LoadPersonPeriod rebuilds the stored person-period table.
func (s *Store) LoadPersonPeriod(_ context.Context, id string) (*personperiod.Table, error) {
	s.mu.RLock()
	e, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrRunNotFound, id)
	}
	// Tables never expose their record slice, so sharing it is safe.
	return personperiod.NewTable(e.run.Schema, e.records, e.run.Recoded), nil
}

// LoadFits returns the stored fits in saved order.
func (s *Store) LoadFits(_ context.Context, id string) ([]*mixed.Fit, error) {
	s.mu.RLock()
	e, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrRunNotFound, id)
	}
	return core.CloneFits(e.fits), nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
