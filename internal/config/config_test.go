package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	os.Unsetenv("BALUHOST_DATABASE_DSN")
	t.Setenv("BALUHOST_DATABASE_DSN", "postgres://localhost/baluhost")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != ModeDev {
		t.Errorf("Mode = %q, want dev", cfg.Mode)
	}
	if cfg.Monitoring.TickInterval <= 0 {
		t.Error("expected a default tick interval")
	}
}

func TestLoadReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("mode: prod\nstorageRootPath: /data\ntempPath: /data/tmp\ndatabase:\n  dsn: postgres://x\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != ModeProd {
		t.Errorf("Mode = %q, want prod", cfg.Mode)
	}
	if cfg.StorageRootPath != "/data" {
		t.Errorf("StorageRootPath = %q, want /data", cfg.StorageRootPath)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("mode: dev\nstorageRootPath: /data\ntempPath: /data/tmp\ndatabase:\n  dsn: postgres://x\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BALUHOST_MODE", "prod")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != ModeProd {
		t.Errorf("Mode = %q, want prod (env should override file)", cfg.Mode)
	}
}

func TestLoadRejectsMissingRequiredField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("mode: prod\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for missing database.dsn")
	}
}
