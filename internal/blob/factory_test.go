package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		cfg  Config
		want Driver
	}{
		{"default fs", Config{Root: t.TempDir()}, DriverFilesystem},
		{"explicit fs", Config{Driver: "fs", Root: t.TempDir()}, DriverFilesystem},
		{"memory", Config{Driver: "memory"}, DriverMemory},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, err := Open(ctx, tc.cfg)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if store.Driver() != tc.want {
				t.Fatalf("driver = %s, want %s", store.Driver(), tc.want)
			}
		})
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: "ftp"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestOpenS3RequiresBucket(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: "s3"}); err == nil {
		t.Fatalf("expected bucket error")
	}
}

// Every backend must honour the same write-once contract.
func TestBackendsShareContract(t *testing.T) {
	ctx := context.Background()
	fsStore, err := Open(ctx, Config{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("open fs: %v", err)
	}
	mem, _ := Open(ctx, Config{Driver: "memory"})
	for _, store := range []Store{fsStore, mem, NewMockS3ForTests()} {
		t.Run(string(store.Driver()), func(t *testing.T) {
			key := "runs/r1/report.txt"
			if _, err := store.Put(ctx, key, bytes.NewReader([]byte("report")), PutOptions{ContentType: "text/plain"}); err != nil {
				t.Fatalf("put: %v", err)
			}
			if _, err := store.Put(ctx, key, bytes.NewReader([]byte("again")), PutOptions{}); !errors.Is(err, ErrExists) {
				t.Fatalf("expected ErrExists, got %v", err)
			}
			_, rc, err := store.Get(ctx, key)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			b, _ := io.ReadAll(rc)
			_ = rc.Close()
			if string(b) != "report" {
				t.Fatalf("unexpected payload %q", b)
			}
			list, err := store.List(ctx, "runs/r1/")
			if err != nil || len(list) != 1 {
				t.Fatalf("list: %v %+v", err, list)
			}
			if _, _, err := store.Get(ctx, "runs/missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}
