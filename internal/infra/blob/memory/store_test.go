package memory

import (
	"bytes"
	"context"
	"io"
	"testing"

	"longitudinal/internal/blob/core"
)

func TestStoreIsolatesReturnedCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.Put(ctx, "k", bytes.NewReader([]byte("abc")), core.PutOptions{Metadata: map[string]string{"a": "1"}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	info, rc, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	info.Metadata["a"] = "mutated"
	b, _ := io.ReadAll(rc)
	b[0] = 'z'
	again, rc2, _ := s.Get(ctx, "k")
	b2, _ := io.ReadAll(rc2)
	if again.Metadata["a"] != "1" || string(b2) != "abc" {
		t.Fatalf("store state leaked: %+v %q", again, b2)
	}
}

func TestStoreListPrefix(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, k := range []string{"runs/b/x", "runs/a/x", "other"} {
		if _, err := s.Put(ctx, k, bytes.NewReader(nil), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	list, _ := s.List(ctx, "runs/")
	if len(list) != 2 || list[0].Key != "runs/a/x" {
		t.Fatalf("unexpected list %+v", list)
	}
}
