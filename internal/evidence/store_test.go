package evidence

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalStorePutWritesPayload(t *testing.T) {
	root := t.TempDir()
	s := NewLocalStore(root)
	uri, err := s.Put(context.Background(), 42, []byte("disputed output"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if uri != "evidence://42/evidence.bin" {
		t.Fatalf("unexpected uri %q", uri)
	}
	b, err := os.ReadFile(filepath.Join(root, "42", "evidence.bin"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(b) != "disputed output" {
		t.Fatalf("payload mismatch: %q", b)
	}
}

func TestLocalStorePutOverwrites(t *testing.T) {
	root := t.TempDir()
	s := NewLocalStore(root)
	ctx := context.Background()
	if _, err := s.Put(ctx, 1, []byte("first")); err != nil {
		t.Fatalf("first put: %v", err)
	}
	if _, err := s.Put(ctx, 1, []byte("second")); err != nil {
		t.Fatalf("second put: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(root, "1", "evidence.bin"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(b) != "second" {
		t.Fatalf("expected overwrite, got %q", b)
	}
}

func TestMinIOStoreRequiresEndpoint(t *testing.T) {
	if _, err := NewMinIOStore(MinIOConfig{}); err == nil {
		t.Fatalf("expected error for missing endpoint")
	}
	s, err := NewMinIOStore(MinIOConfig{Endpoint: "127.0.0.1:9000"})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if s.cfg.Bucket != "stakemarket-evidence" {
		t.Fatalf("expected default bucket, got %q", s.cfg.Bucket)
	}
}
