package fs

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"labcore/internal/infra/blob"
)

func newTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func TestStorePutGetHeadListDelete(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	opts := blob.PutOptions{ContentType: "application/json", Metadata: map[string]string{"kind": "final"}}

	info, err := store.Put(ctx, "reports/final/r1.json", strings.NewReader(`{"id":"r1"}`), opts)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "reports/final/r1.json" || info.Size != 11 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "reports/final/r1.json", strings.NewReader("x"), blob.PutOptions{}); !errors.Is(err, blob.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	head, err := store.Head(ctx, "reports/final/r1.json")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	got, rc, err := store.Get(ctx, "reports/final/r1.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	if err := rc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if string(body) != `{"id":"r1"}` || got.ETag != head.ETag || got.Metadata["kind"] != "final" || got.ContentType != "application/json" {
		t.Fatalf("unexpected object %+v %q", got, body)
	}

	if _, err := store.Put(ctx, "reports/preliminary/r2.json", strings.NewReader("{}"), blob.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	list, err := store.List(ctx, "reports/final/")
	if err != nil || len(list) != 1 || list[0].Key != "reports/final/r1.json" {
		t.Fatalf("unexpected list %+v %v", list, err)
	}
	all, err := store.List(ctx, "")
	if err != nil || len(all) != 2 || all[0].Key != "reports/final/r1.json" {
		t.Fatalf("list should be ordered by key: %+v %v", all, err)
	}

	ok, err := store.Delete(ctx, "reports/final/r1.json")
	if err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, err := store.Delete(ctx, "reports/final/r1.json"); err != nil || ok {
		t.Fatalf("second delete should report absence: %v %v", ok, err)
	}
	if _, err := os.Stat(filepath.Join(store.Root(), "reports", "final", "r1.json.meta")); !os.IsNotExist(err) {
		t.Fatalf("sidecar left behind: %v", err)
	}
	if _, _, err := store.Get(ctx, "reports/final/r1.json"); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreRejectsUnsafeKeys(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	for _, key := range []string{"", "  ", "/etc/passwd", "../escape", "a/../../b", "r1.json.meta"} {
		if _, err := store.Put(ctx, key, strings.NewReader("x"), blob.PutOptions{}); !errors.Is(err, blob.ErrInvalidKey) {
			t.Fatalf("key %q: expected ErrInvalidKey, got %v", key, err)
		}
	}
}

func TestNewDefaultsRoot(t *testing.T) {
	t.Chdir(t.TempDir())
	store, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if store.Root() != defaultRoot || store.Driver() != blob.DriverFilesystem {
		t.Fatalf("unexpected store %s %s", store.Root(), store.Driver())
	}
	if _, err := os.Stat(defaultRoot); err != nil {
		t.Fatalf("root not created: %v", err)
	}
}
