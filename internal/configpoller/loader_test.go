package configpoller

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromURIFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shards.json")
	body := `{"version":1,"shards":[{"id":2,"url":"http://a"},{"id":3,"url":"http://b"}]}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := LoadFromURI(context.Background(), "file://"+path)
	if err != nil {
		t.Fatalf("LoadFromURI failed: %v", err)
	}
	if len(cfg.Shards) != 2 {
		t.Fatalf("expected 2 shards, got %d", len(cfg.Shards))
	}
}

func TestLoadFromURIRejectsUnsupportedScheme(t *testing.T) {
	_, err := LoadFromURI(context.Background(), "ftp://example.com/shards.json")
	if err == nil {
		t.Fatalf("expected an error for an unsupported scheme")
	}
}

func TestIsFileURI(t *testing.T) {
	if !IsFileURI("file:///tmp/x.json") {
		t.Fatalf("expected file:// to be recognized")
	}
	if IsFileURI("http://example.com/x.json") {
		t.Fatalf("expected http:// not to be recognized as file://")
	}
}
