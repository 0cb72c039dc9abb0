package sqlstore

import (
	"database/sql"
	"testing"

	"longitudinal/internal/table"
)

func TestBind(t *testing.T) {
	q := `INSERT INTO runs(id, source) VALUES (?, ?)`
	if got := SQLite.bind(q); got != q {
		t.Fatalf("sqlite rebound query: %s", got)
	}
	if got := Postgres.bind(q); got != `INSERT INTO runs(id, source) VALUES ($1, $2)` {
		t.Fatalf("postgres bind = %s", got)
	}
}

func TestNullFloat(t *testing.T) {
	if n, err := nullFloat(table.NA()); err != nil || n.Valid {
		t.Fatalf("missing = %+v, %v", n, err)
	}
	if n, err := nullFloat(table.Num(1.5)); err != nil || !n.Valid || n.Float64 != 1.5 {
		t.Fatalf("number = %+v, %v", n, err)
	}
	if _, err := nullFloat(table.Str("x")); err == nil {
		t.Fatalf("expected error for string outcome")
	}
	if v := fromNull(sql.NullFloat64{}); !v.IsMissing() {
		t.Fatalf("expected missing, got %v", v)
	}
}
