package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfig writes yamlContent to a config.yaml in a fresh temp dir and returns its path.
func writeConfig(t *testing.T, yamlContent string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
port: "3480"
env: "test"
database:
  host: "db.example.com"
  port: 5432
  user: "testuser"
  database: "testdb"
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	// Change to temp directory so Load() finds config.yaml
	originalDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		os.Chdir(originalDir)
	})

	os.Unsetenv("PGHOST")

	t.Setenv("PORT", "4480")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "4480" {
		t.Errorf("expected Port=4480 (from env), got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Errorf("expected Env=production (from env), got %s", cfg.Env)
	}
	if cfg.Version != "test-version" {
		t.Errorf("expected Version=test-version, got %s", cfg.Version)
	}
	if cfg.Database.Host != "db.example.com" {
		t.Errorf("expected Database.Host=db.example.com (from yaml), got %s", cfg.Database.Host)
	}
	if cfg.IsDevelopment() {
		t.Error("expected production env not to be development")
	}
}

func TestLoadFile_Defaults(t *testing.T) {
	path := writeConfig(t, "env: \"local\"\n")

	cfg, err := LoadFile(path, "dev")
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}

	if cfg.Limits.PageSize != 32 {
		t.Errorf("expected PageSize=32 (default), got %d", cfg.Limits.PageSize)
	}
	if cfg.Database.MaxConnections != 21 {
		t.Errorf("expected MaxConnections=21 (default), got %d", cfg.Database.MaxConnections)
	}
	if cfg.Database.MaxConnLifetime != time.Hour {
		t.Errorf("expected MaxConnLifetime=1h (default), got %v", cfg.Database.MaxConnLifetime)
	}
	if cfg.Blob.Backend != "file" {
		t.Errorf("expected Blob.Backend=file (default), got %s", cfg.Blob.Backend)
	}
	if cfg.Cache.IDCacheSize != 0 {
		t.Errorf("expected IDCacheSize=0 (default), got %d", cfg.Cache.IDCacheSize)
	}
	if !cfg.IsDevelopment() {
		t.Error("expected local env to be development")
	}
}

func TestLoadFile_PasswordOnlyFromEnv(t *testing.T) {
	path := writeConfig(t, `
database:
  host: "db.internal"
  user: "collector"
  database: "honey"
`)
	t.Setenv("PGPASSWORD", "s3cret")

	cfg, err := LoadFile(path, "dev")
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}

	if cfg.Database.Password != "s3cret" {
		t.Errorf("expected password from env, got %q", cfg.Database.Password)
	}
	connStr := cfg.Database.ConnectionString()
	if !strings.HasPrefix(connStr, "postgres://collector:s3cret@") {
		t.Errorf("unexpected connection string prefix: %s", connStr)
	}
	if !strings.HasSuffix(connStr, "/honey?sslmode=disable") {
		t.Errorf("unexpected connection string suffix: %s", connStr)
	}
}

func TestLoadFile_RedisBackendRequiresHost(t *testing.T) {
	path := writeConfig(t, `
blob:
  backend: "redis"
`)
	os.Unsetenv("REDIS_HOST")

	_, err := LoadFile(path, "dev")
	if err == nil {
		t.Fatal("expected error when redis backend has no host")
	}
	if !strings.Contains(err.Error(), "redis.host") {
		t.Errorf("expected error to mention redis.host, got %v", err)
	}
}

func TestLoadFile_UnknownBlobBackend(t *testing.T) {
	path := writeConfig(t, `
blob:
  backend: "s3"
`)

	if _, err := LoadFile(path, "dev"); err == nil {
		t.Fatal("expected error for unknown blob backend")
	}
}

func TestLoadFile_InvalidPageSize(t *testing.T) {
	path := writeConfig(t, `
limits:
  page_size: 0
`)

	if _, err := LoadFile(path, "dev"); err == nil {
		t.Fatal("expected error for zero page size")
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	originalDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		os.Chdir(originalDir)
	})

	if _, err := Load("test-version"); err == nil {
		t.Fatal("expected error when config.yaml is missing")
	}
}

func TestRedisConfig_Addr(t *testing.T) {
	cfg := &RedisConfig{Host: "redis.internal", Port: 6380}
	if got := cfg.Addr(); got != "redis.internal:6380" {
		t.Errorf("expected redis.internal:6380, got %s", got)
	}
}
