package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadWithoutConfigDir(t *testing.T) {
	app, err := Load(Options{BasePath: filepath.Join(t.TempDir(), "missing"), FileName: "config", FileType: "yaml"})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if app.Builder.Workers != 4 {
		t.Fatalf("default workers = %d, want 4", app.Builder.Workers)
	}
	if app.Builder.StaleAfter != 600*time.Second {
		t.Fatalf("default stale-after = %v", app.Builder.StaleAfter)
	}
	if app.Redis.Addr != "127.0.0.1:6379" {
		t.Fatalf("default redis addr = %q", app.Redis.Addr)
	}
	if app.Storage.Default != "local" {
		t.Fatalf("default storage = %q", app.Storage.Default)
	}
}

func TestLoadReadsFileAndKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", `
builder:
  workers: 8
  stale-after: 5m
storage:
  local:
    base-path: /tmp/blobs
`)

	app, err := Load(Options{BasePath: dir, FileName: "config", FileType: "yaml"})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if app.Builder.Workers != 8 {
		t.Fatalf("workers = %d, want 8", app.Builder.Workers)
	}
	if app.Builder.StaleAfter != 5*time.Minute {
		t.Fatalf("stale-after = %v, want 5m", app.Builder.StaleAfter)
	}
	if app.Storage.Local.BasePath != "/tmp/blobs" {
		t.Fatalf("base-path = %q", app.Storage.Local.BasePath)
	}
	// Keys absent from the file keep their struct defaults.
	if app.Builder.MaxErrors != 3 {
		t.Fatalf("max-errors = %d, want default 3", app.Builder.MaxErrors)
	}
	if app.Storage.Local.BaseURL != "/media/" {
		t.Fatalf("base-url = %q, want default", app.Storage.Local.BaseURL)
	}
}

func TestLocalOverlayWins(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "builder:\n  workers: 2\n")
	writeFile(t, dir, "config.local.yaml", "builder:\n  workers: 6\n")

	app, err := Load(Options{BasePath: dir, FileName: "config", FileType: "yaml"})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if app.Builder.Workers != 6 {
		t.Fatalf("workers = %d, want overlay value 6", app.Builder.Workers)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "redis:\n  pool-size: -1\n")

	_, err := Load(Options{BasePath: dir, FileName: "config", FileType: "yaml"})
	if err == nil {
		t.Fatal("expected validation error for pool-size: -1")
	}
}
