package blob

import (
	"bytes"
	"context"
	"io"
	"testing"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	if _, _, err := store.Get(ctx, "missing"); err == nil {
		t.Fatalf("expected get missing error")
	}
	if _, err := store.Head(ctx, "missing"); err == nil {
		t.Fatalf("expected head missing error")
	}
	info, err := store.Put(ctx, "certs/farm-1.pdf", bytes.NewBufferString("certificate"), PutOptions{ContentType: "application/pdf", Metadata: map[string]string{"farm": "tambak-1"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "certs/farm-1.pdf" || info.Size != int64(len("certificate")) {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "certs/farm-1.pdf", bytes.NewBufferString("dup"), PutOptions{}); err == nil {
		t.Fatalf("expected duplicate key error")
	}
	got, r, err := store.Get(ctx, "certs/farm-1.pdf")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(r)
	_ = r.Close()
	if string(b) != "certificate" || got.ContentType != "application/pdf" {
		t.Fatalf("unexpected content %q info %+v", string(b), got)
	}
	infos, err := store.List(ctx, "certs/")
	if err != nil || len(infos) != 1 {
		t.Fatalf("list: %v %v", infos, err)
	}
	if _, err := store.PresignURL(ctx, "certs/farm-1.pdf", SignedURLOptions{}); err != ErrUnsupported {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	ok, err := store.Delete(ctx, "certs/farm-1.pdf")
	if err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	ok, err = store.Delete(ctx, "certs/farm-1.pdf")
	if err != nil || ok {
		t.Fatalf("expected delete miss, got %v %v", ok, err)
	}
}

func TestFilesystemStoreRoundTrip(t *testing.T) {
	store, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if _, err := store.Put(ctx, "../escape", bytes.NewBufferString("x"), PutOptions{}); err == nil {
		t.Fatalf("expected traversal rejection")
	}
	if _, err := store.Put(ctx, "/abs", bytes.NewBufferString("x"), PutOptions{}); err == nil {
		t.Fatalf("expected absolute key rejection")
	}
	info, err := store.Put(ctx, "reports/lot-1.json", bytes.NewBufferString(`{"lot":"LOT-1"}`), PutOptions{ContentType: "application/json"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.ETag == "" {
		t.Fatalf("expected content hash etag")
	}
	if _, err := store.Put(ctx, "reports/lot-1.json", bytes.NewBufferString("dup"), PutOptions{}); err == nil {
		t.Fatalf("expected duplicate key error")
	}
	head, err := store.Head(ctx, "reports/lot-1.json")
	if err != nil || head.Size != info.Size {
		t.Fatalf("head: %+v %v", head, err)
	}
	got, r, err := store.Get(ctx, "reports/lot-1.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(r)
	_ = r.Close()
	if string(b) != `{"lot":"LOT-1"}` || got.ETag != info.ETag {
		t.Fatalf("unexpected content %q", string(b))
	}
	infos, err := store.List(ctx, "reports/")
	if err != nil || len(infos) != 1 || infos[0].Key != "reports/lot-1.json" {
		t.Fatalf("list: %v %v", infos, err)
	}
	url, err := store.PresignURL(ctx, "reports/lot-1.json", SignedURLOptions{})
	if err != nil || url == "" {
		t.Fatalf("presign: %q %v", url, err)
	}
	ok, err := store.Delete(ctx, "reports/lot-1.json")
	if err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	t.Setenv("SHRIMPTRACE_BLOB_DRIVER", "memory")
	store, err := Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if store.Driver() != DriverMemory {
		t.Fatalf("unexpected driver %s", store.Driver())
	}
	t.Setenv("SHRIMPTRACE_BLOB_DRIVER", "bogus")
	if _, err := Open(context.Background()); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
