package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

// storeContract exercises the behavior every driver must share.
func storeContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	payload := []byte("PLC1\x00journey-bytes")
	info, err := store.Put(ctx, "journeys/unit-1/3.bin", bytes.NewReader(payload), PutOptions{
		ContentType: "application/octet-stream",
		Metadata:    map[string]string{"unit": "unit-1"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != int64(len(payload)) {
		t.Fatalf("put size = %d, want %d", info.Size, len(payload))
	}

	// Archived payloads are immutable: a second put on the same key fails.
	if _, err := store.Put(ctx, "journeys/unit-1/3.bin", bytes.NewReader(payload), PutOptions{}); err == nil {
		t.Fatalf("expected create-only put to reject existing key")
	}

	got, rc, err := store.Get(ctx, "journeys/unit-1/3.bin")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatalf("round-trip mismatch")
	}
	if got.ContentType != "application/octet-stream" {
		t.Fatalf("content type = %q", got.ContentType)
	}

	if _, err := store.Head(ctx, "journeys/unit-1/3.bin"); err != nil {
		t.Fatalf("head: %v", err)
	}

	if _, err := store.Put(ctx, "journeys/unit-2/0.bin", strings.NewReader("other"), PutOptions{}); err != nil {
		t.Fatalf("put second: %v", err)
	}
	infos, err := store.List(ctx, "journeys/unit-1/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 1 || infos[0].Key != "journeys/unit-1/3.bin" {
		t.Fatalf("unexpected listing: %+v", infos)
	}

	deleted, err := store.Delete(ctx, "journeys/unit-1/3.bin")
	if err != nil || !deleted {
		t.Fatalf("delete: %v deleted=%v", err, deleted)
	}
	if deleted, err := store.Delete(ctx, "journeys/unit-1/3.bin"); err != nil || deleted {
		if store.Driver() != DriverS3 {
			t.Fatalf("second delete: %v deleted=%v", err, deleted)
		}
	}
	if _, _, err := store.Get(ctx, "journeys/unit-1/3.bin"); err == nil {
		t.Fatalf("expected get after delete to fail")
	}
}

func TestMemoryStoreContract(t *testing.T) {
	storeContract(t, NewMemory())
}

func TestFilesystemStoreContract(t *testing.T) {
	store, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("new filesystem store: %v", err)
	}
	storeContract(t, store)
}

func TestMockS3StoreContract(t *testing.T) {
	storeContract(t, NewMockS3ForTests())
}

func TestMemoryPresignUnsupported(t *testing.T) {
	_, err := NewMemory().PresignURL(context.Background(), "journeys/unit-1/0.bin", SignedURLOptions{})
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestFilesystemRejectsTraversalKeys(t *testing.T) {
	store, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("new filesystem store: %v", err)
	}
	for _, key := range []string{"", "../escape", "/absolute"} {
		if _, err := store.Put(context.Background(), key, strings.NewReader("x"), PutOptions{}); err == nil {
			t.Fatalf("expected key %q to be rejected", key)
		}
	}
}

func TestOpenSelectsMemoryDriver(t *testing.T) {
	t.Setenv("PROVENANCE_BLOB_DRIVER", "memory")
	store, err := Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if store.Driver() != DriverMemory {
		t.Fatalf("driver = %s", store.Driver())
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Setenv("PROVENANCE_BLOB_DRIVER", "tape")
	if _, err := Open(context.Background()); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
