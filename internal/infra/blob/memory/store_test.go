package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"labcore/internal/infra/blob"
)

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := New()
	md := map[string]string{"kind": "signing"}
	if _, err := store.Put(ctx, "reports/signing/r1.json", strings.NewReader("{}"), blob.PutOptions{Metadata: md}); err != nil {
		t.Fatalf("put: %v", err)
	}
	md["kind"] = "mutated"

	info, rc, err := store.Get(ctx, "reports/signing/r1.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	if string(body) != "{}" || info.Metadata["kind"] != "signing" || info.Size != 2 {
		t.Fatalf("unexpected object %+v %q", info, body)
	}
	info.Metadata["kind"] = "mutated"
	if head, _ := store.Head(ctx, "reports/signing/r1.json"); head.Metadata["kind"] != "signing" {
		t.Fatalf("stored metadata aliased: %+v", head)
	}

	if _, err := store.Put(ctx, "reports/signing/r1.json", strings.NewReader("{}"), blob.PutOptions{}); !errors.Is(err, blob.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if _, err := store.Head(ctx, "reports/none.json"); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreListAndDelete(t *testing.T) {
	ctx := context.Background()
	store := New()
	for _, key := range []string{"reports/final/b.json", "reports/final/a.json", "reports/preliminary/c.json"} {
		if _, err := store.Put(ctx, key, strings.NewReader(key), blob.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	list, err := store.List(ctx, "reports/final/")
	if err != nil || len(list) != 2 || list[0].Key != "reports/final/a.json" {
		t.Fatalf("unexpected list %+v %v", list, err)
	}
	if ok, _ := store.Delete(ctx, "reports/final/a.json"); !ok {
		t.Fatalf("expected delete to find key")
	}
	if ok, _ := store.Delete(ctx, "reports/final/a.json"); ok {
		t.Fatalf("expected second delete to miss")
	}
	if _, err := store.Delete(ctx, "../x"); !errors.Is(err, blob.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}
