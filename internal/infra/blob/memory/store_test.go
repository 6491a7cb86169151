package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"

	"kitstudio/internal/blob/core"
)

func TestStoreMissingKeys(t *testing.T) {
	store := New("")
	ctx := context.Background()
	if _, err := store.Head(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("head: expected not found, got %v", err)
	}
	if _, _, err := store.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("get: expected not found, got %v", err)
	}
	if _, err := store.PresignURL(ctx, "missing", core.SignedURLOptions{}); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("presign: expected not found, got %v", err)
	}
	if ok, err := store.Delete(ctx, "missing"); err != nil || ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
}

func TestStoreLifecycle(t *testing.T) {
	store := New("https://pub.example.com")
	ctx := context.Background()
	meta := map[string]string{"original-name": "Kick 01.wav"}
	info, err := store.Put(ctx, "sounds/abc-kick-01.wav", bytes.NewReader([]byte("RIFF")), core.PutOptions{ContentType: "audio/wav", Metadata: meta})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	meta["original-name"] = "mutated"
	if info.URL != "https://pub.example.com/sounds/abc-kick-01.wav" || info.Size != 4 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "sounds/abc-kick-01.wav", bytes.NewReader(nil), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if _, err := store.Put(ctx, "cover-art/x.png", bytes.NewReader([]byte("png")), core.PutOptions{}); err != nil {
		t.Fatalf("put cover: %v", err)
	}

	got, rc, err := store.Get(ctx, "sounds/abc-kick-01.wav")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	if string(body) != "RIFF" || got.Metadata["original-name"] != "Kick 01.wav" {
		t.Fatalf("unexpected blob %q %+v", body, got)
	}

	list, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	keys := make([]string, len(list))
	for i, inf := range list {
		keys[i] = inf.Key
	}
	if diff := cmp.Diff([]string{"cover-art/x.png", "sounds/abc-kick-01.wav"}, keys); diff != "" {
		t.Fatalf("list mismatch (-want +got):\n%s", diff)
	}
	if sounds, _ := store.List(ctx, "sounds/"); len(sounds) != 1 {
		t.Fatalf("prefix list = %d", len(sounds))
	}

	url, err := store.PresignURL(ctx, "cover-art/x.png", core.SignedURLOptions{Method: "get"})
	if err != nil || url != "https://pub.example.com/cover-art/x.png" {
		t.Fatalf("presign = %q %v", url, err)
	}
	if _, err := store.PresignURL(ctx, "cover-art/x.png", core.SignedURLOptions{Method: "PUT"}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
	if ok, err := store.Delete(ctx, "cover-art/x.png"); err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	if store.Driver() != core.DriverMemory {
		t.Fatal("expected memory driver")
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestStorePutReadError(t *testing.T) {
	store := New("")
	if _, err := store.Put(context.Background(), "bad", failingReader{}, core.PutOptions{}); err == nil {
		t.Fatal("expected read error")
	}
	if list, _ := store.List(context.Background(), ""); len(list) != 0 {
		t.Fatalf("failed put left %d objects", len(list))
	}
}
