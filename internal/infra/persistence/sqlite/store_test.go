package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"longitudinal/internal/persistence/core"
	"longitudinal/internal/personperiod"
	"longitudinal/internal/table"
)

func TestRunsSurviveReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")
	store, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if store.Path() != path || store.DB() == nil || store.Driver() != core.DriverSQLite {
		t.Fatalf("unexpected store %+v", store)
	}
	schema := personperiod.Schema{Subject: "ID", Cluster: "School", Covariates: []string{"Goal"}, Occasions: []string{"w1"}, Outcome: "Score", Time: "Time"}
	data := personperiod.NewTable(schema, []personperiod.Record{
		{Subject: table.Str("s-01"), Cluster: table.NA(), Covariates: []table.Value{table.Num(2)}, Occasion: "w1", Outcome: table.Num(7.25), Time: table.NA()},
	}, false)
	if err := store.SaveRun(ctx, core.RunRecord{
		Run:  core.Run{ID: "r1", CreatedAt: time.Now(), Subjects: 1, Rows: 1, Schema: schema},
		Data: data,
	}); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	loaded, err := reopened.LoadPersonPeriod(ctx, "r1")
	if err != nil {
		t.Fatalf("LoadPersonPeriod: %v", err)
	}
	rec := loaded.Record(0)
	if !rec.Subject.Equal(table.Str("s-01")) || !rec.Cluster.IsMissing() || !rec.Covariates[0].Equal(table.Num(2)) ||
		!rec.Outcome.Equal(table.Num(7.25)) || !rec.Time.IsMissing() || loaded.Recoded() {
		t.Fatalf("unexpected record %+v", rec)
	}
	fits, err := reopened.LoadFits(ctx, "r1")
	if err != nil || len(fits) != 0 {
		t.Fatalf("LoadFits = %v, %v", fits, err)
	}
}
