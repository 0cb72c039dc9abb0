// Package sqlstore implements the run store over database/sql. The sqlite and
// postgres packages supply the driver and a Dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"longitudinal/internal/mixed"
	"longitudinal/internal/persistence/core"
	"longitudinal/internal/personperiod"
	"longitudinal/internal/table"
)

// Dialect captures the SQL differences between backends.
type Dialect struct {
	Driver core.Driver
	// Numbered rewrites ? placeholders to $1, $2, ...
	Numbered bool
	Float    string
	JSON     string
}

var (
	// SQLite stores floats as REAL and JSON documents as TEXT.
	SQLite = Dialect{Driver: core.DriverSQLite, Float: "REAL", JSON: "TEXT"}
	// Postgres uses numbered placeholders and JSONB payloads.
	Postgres = Dialect{Driver: core.DriverPostgres, Numbered: true, Float: "DOUBLE PRECISION", JSON: "JSONB"}
)

func (d Dialect) ddl() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			source TEXT NOT NULL,
			subjects INTEGER NOT NULL,
			row_count INTEGER NOT NULL,
			missing INTEGER NOT NULL,
			recoded BOOLEAN NOT NULL,
			schema_def ` + d.JSON + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS person_period (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			subject TEXT NOT NULL,
			cluster TEXT NOT NULL,
			covariates ` + d.JSON + ` NOT NULL,
			occasion TEXT NOT NULL,
			outcome ` + d.Float + `,
			time_index ` + d.Float + `,
			PRIMARY KEY (run_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS model_fits (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			model TEXT NOT NULL,
			payload ` + d.JSON + ` NOT NULL,
			PRIMARY KEY (run_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS comparisons (
			run_id TEXT PRIMARY KEY,
			payload ` + d.JSON + ` NOT NULL
		)`,
	}
}

func (d Dialect) bind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Store is a run store on a *sql.DB.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

var _ core.Store = (*Store)(nil)

// New applies the schema and returns the store. The store owns db.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	for _, stmt := range dialect.ddl() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("execute ddl: %w", err)
		}
	}
	return &Store{db: db, dialect: dialect}, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Driver identifies the backend.
func (s *Store) Driver() core.Driver { return s.dialect.Driver }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// SaveRun writes the run, its person-period rows, fits and comparison in one transaction.
func (s *Store) SaveRun(ctx context.Context, rec core.RunRecord) (retErr error) {
	run := rec.Run
	if run.ID == "" {
		return fmt.Errorf("sqlstore: run id required")
	}
	var existing string
	err := s.db.QueryRowContext(ctx, s.dialect.bind(`SELECT id FROM runs WHERE id = ?`), run.ID).Scan(&existing)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", core.ErrRunExists, run.ID)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("lookup run: %w", err)
	}

	schema, err := json.Marshal(run.Schema)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, s.dialect.bind(`INSERT INTO runs(id, created_at, source, subjects, row_count, missing, recoded, schema_def) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		run.ID, run.CreatedAt.UTC().Format(time.RFC3339Nano), run.Source, run.Subjects, run.Rows, run.Missing, run.Recoded, string(schema)); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if rec.Data != nil {
		insert := s.dialect.bind(`INSERT INTO person_period(run_id, seq, subject, cluster, covariates, occasion, outcome, time_index) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		for i, r := range rec.Data.Records() {
			subject, cluster, covariates, err := encodeRecord(r)
			if err != nil {
				return fmt.Errorf("encode row %d: %w", i, err)
			}
			outcome, err := nullFloat(r.Outcome)
			if err != nil {
				return fmt.Errorf("encode row %d outcome: %w", i, err)
			}
			tm, err := nullFloat(r.Time)
			if err != nil {
				return fmt.Errorf("encode row %d time: %w", i, err)
			}
			if _, err := tx.ExecContext(ctx, insert, run.ID, i, subject, cluster, covariates, r.Occasion, outcome, tm); err != nil {
				return fmt.Errorf("insert person_period row %d: %w", i, err)
			}
		}
	}

	for i, f := range rec.Fits {
		payload, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("encode fit %s: %w", f.Model, err)
		}
		if _, err := tx.ExecContext(ctx, s.dialect.bind(`INSERT INTO model_fits(run_id, seq, model, payload) VALUES (?, ?, ?, ?)`),
			run.ID, i, f.Model, string(payload)); err != nil {
			return fmt.Errorf("insert fit %s: %w", f.Model, err)
		}
	}

	if rec.Comparison != nil {
		payload, err := json.Marshal(rec.Comparison)
		if err != nil {
			return fmt.Errorf("encode comparison: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.dialect.bind(`INSERT INTO comparisons(run_id, payload) VALUES (?, ?)`), run.ID, string(payload)); err != nil {
			return fmt.Errorf("insert comparison: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

const runColumns = `id, created_at, source, subjects, row_count, missing, recoded, schema_def`

func scanRun(scan func(dest ...any) error) (core.Run, error) {
	var (
		run     core.Run
		created string
		schema  []byte
	)
	if err := scan(&run.ID, &created, &run.Source, &run.Subjects, &run.Rows, &run.Missing, &run.Recoded, &schema); err != nil {
		return core.Run{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return core.Run{}, fmt.Errorf("decode created_at: %w", err)
	}
	run.CreatedAt = ts
	if err := json.Unmarshal(schema, &run.Schema); err != nil {
		return core.Run{}, fmt.Errorf("decode schema: %w", err)
	}
	return run, nil
}

// ListRuns returns every run, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]core.Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs`)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []core.Run
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) run(ctx context.Context, id string) (core.Run, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.bind(`SELECT `+runColumns+` FROM runs WHERE id = ?`), id)
	run, err := scanRun(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Run{}, fmt.Errorf("%w: %s", core.ErrRunNotFound, id)
	}
	if err != nil {
		return core.Run{}, fmt.Errorf("select run: %w", err)
	}
	return run, nil
}

// LoadRun reads back the run metadata, person-period rows, fits and comparison.
func (s *Store) LoadRun(ctx context.Context, id string) (*core.RunRecord, error) {
	run, err := s.run(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := s.LoadPersonPeriod(ctx, id)
	if err != nil {
		return nil, err
	}
	fits, err := s.LoadFits(ctx, id)
	if err != nil {
		return nil, err
	}
	cmp, err := s.loadComparison(ctx, id)
	if err != nil {
		return nil, err
	}
	return &core.RunRecord{Run: run, Data: data, Fits: fits, Comparison: cmp}, nil
}

func (s *Store) loadComparison(ctx context.Context, id string) (*mixed.Comparison, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, s.dialect.bind(`SELECT payload FROM comparisons WHERE run_id = ?`), id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select comparison: %w", err)
	}
	var c mixed.Comparison
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, fmt.Errorf("decode comparison: %w", err)
	}
	return &c, nil
}

// LoadPersonPeriod rebuilds the stored person-period table in its original row order.
func (s *Store) LoadPersonPeriod(ctx context.Context, id string) (*personperiod.Table, error) {
	run, err := s.run(ctx, id)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.bind(`SELECT subject, cluster, covariates, occasion, outcome, time_index FROM person_period WHERE run_id = ? ORDER BY seq`), id)
	if err != nil {
		return nil, fmt.Errorf("select person_period: %w", err)
	}
	defer func() { _ = rows.Close() }()
	records := make([]personperiod.Record, 0, run.Rows)
	for rows.Next() {
		var (
			subject, cluster string
			covariates       []byte
			rec              personperiod.Record
			outcome, tm      sql.NullFloat64
		)
		if err := rows.Scan(&subject, &cluster, &covariates, &rec.Occasion, &outcome, &tm); err != nil {
			return nil, fmt.Errorf("scan person_period: %w", err)
		}
		if err := json.Unmarshal([]byte(subject), &rec.Subject); err != nil {
			return nil, fmt.Errorf("decode subject: %w", err)
		}
		if err := json.Unmarshal([]byte(cluster), &rec.Cluster); err != nil {
			return nil, fmt.Errorf("decode cluster: %w", err)
		}
		if err := json.Unmarshal(covariates, &rec.Covariates); err != nil {
			return nil, fmt.Errorf("decode covariates: %w", err)
		}
		rec.Outcome = fromNull(outcome)
		rec.Time = fromNull(tm)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate person_period: %w", err)
	}
	return personperiod.NewTable(run.Schema, records, run.Recoded), nil
}

// LoadFits returns the stored fits in saved order.
func (s *Store) LoadFits(ctx context.Context, id string) ([]*mixed.Fit, error) {
	if _, err := s.run(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.bind(`SELECT payload FROM model_fits WHERE run_id = ? ORDER BY seq`), id)
	if err != nil {
		return nil, fmt.Errorf("select model_fits: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var fits []*mixed.Fit
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan model_fits: %w", err)
		}
		var f mixed.Fit
		if err := json.Unmarshal(payload, &f); err != nil {
			return nil, fmt.Errorf("decode fit: %w", err)
		}
		fits = append(fits, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate model_fits: %w", err)
	}
	return fits, nil
}

func encodeRecord(r personperiod.Record) (subject, cluster, covariates string, err error) {
	s, err := json.Marshal(r.Subject)
	if err != nil {
		return "", "", "", err
	}
	c, err := json.Marshal(r.Cluster)
	if err != nil {
		return "", "", "", err
	}
	cov := r.Covariates
	if cov == nil {
		cov = []table.Value{}
	}
	v, err := json.Marshal(cov)
	if err != nil {
		return "", "", "", err
	}
	return string(s), string(c), string(v), nil
}

func nullFloat(v table.Value) (sql.NullFloat64, error) {
	switch v.Kind {
	case table.Missing:
		return sql.NullFloat64{}, nil
	case table.Number:
		return sql.NullFloat64{Float64: v.Num, Valid: true}, nil
	default:
		return sql.NullFloat64{}, fmt.Errorf("non-numeric value %q", v.Str)
	}
}

func fromNull(n sql.NullFloat64) table.Value {
	if !n.Valid {
		return table.NA()
	}
	return table.Num(n.Float64)
}
