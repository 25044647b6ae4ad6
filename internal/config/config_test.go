package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Store.Driver != StoreDriverPostgres {
		t.Errorf("Store.Driver = %q, want %q", cfg.Store.Driver, StoreDriverPostgres)
	}
	if cfg.Upload.MaxBytes != 10<<20 {
		t.Errorf("Upload.MaxBytes = %d, want %d", cfg.Upload.MaxBytes, 10<<20)
	}
	if cfg.Upload.MaxAttempts != 3 {
		t.Errorf("Upload.MaxAttempts = %d, want 3", cfg.Upload.MaxAttempts)
	}
	if cfg.Upload.BaseDelay != time.Second {
		t.Errorf("Upload.BaseDelay = %v, want 1s", cfg.Upload.BaseDelay)
	}
	if cfg.RateLimit.SubmissionsPerMinute != 10 {
		t.Errorf("RateLimit.SubmissionsPerMinute = %d, want 10", cfg.RateLimit.SubmissionsPerMinute)
	}
	if cfg.NATS.Subjects.Submitted != "reports.submitted" {
		t.Errorf("NATS.Subjects.Submitted = %q", cfg.NATS.Subjects.Submitted)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
store:
  driver: mongo
mongo:
  uri: mongodb://db:27017
upload:
  max_attempts: 5
  base_delay: 250ms
server:
  http_port: 9000
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Store.Driver != StoreDriverMongo {
		t.Errorf("Store.Driver = %q, want mongo", cfg.Store.Driver)
	}
	if cfg.Mongo.URI != "mongodb://db:27017" {
		t.Errorf("Mongo.URI = %q", cfg.Mongo.URI)
	}
	if cfg.Upload.MaxAttempts != 5 {
		t.Errorf("Upload.MaxAttempts = %d, want 5", cfg.Upload.MaxAttempts)
	}
	if cfg.Upload.BaseDelay != 250*time.Millisecond {
		t.Errorf("Upload.BaseDelay = %v, want 250ms", cfg.Upload.BaseDelay)
	}
	if cfg.Server.HTTPPort != 9000 {
		t.Errorf("Server.HTTPPort = %d, want 9000", cfg.Server.HTTPPort)
	}
	// untouched keys keep their defaults
	if cfg.Mongo.Collection != "reports" {
		t.Errorf("Mongo.Collection = %q, want reports", cfg.Mongo.Collection)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("SAFEREPORT_STORE_DRIVER", "memory")
	t.Setenv("SAFEREPORT_CRYPTO_ENCRYPTION_KEY", "s3cret")
	t.Setenv("SAFEREPORT_JWT_SECRET", "jwt-secret")
	t.Setenv("SAFEREPORT_REDIS_ENABLED", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Store.Driver != StoreDriverMemory {
		t.Errorf("Store.Driver = %q, want memory", cfg.Store.Driver)
	}
	if cfg.Crypto.EncryptionKey != "s3cret" {
		t.Errorf("Crypto.EncryptionKey = %q", cfg.Crypto.EncryptionKey)
	}
	if cfg.JWT.Secret != "jwt-secret" {
		t.Errorf("JWT.Secret = %q", cfg.JWT.Secret)
	}
	if !cfg.Redis.Enabled {
		t.Error("Redis.Enabled = false, want true")
	}
}

func TestLoadBareEncryptionKeyVariable(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "legacy")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crypto.EncryptionKey != "legacy" {
		t.Errorf("Crypto.EncryptionKey = %q, want legacy", cfg.Crypto.EncryptionKey)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown driver", "store:\n  driver: sqlite\n"},
		{"zero max bytes", "upload:\n  max_bytes: 0\n"},
		{"zero attempts", "upload:\n  max_attempts: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Fatal("Load() error = nil, want validation error")
			}
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	c := DatabaseConfig{
		Host: "db", Port: 5432, User: "u", Password: "p",
		DBName: "safereport", SSLMode: "disable", Schema: "public",
	}
	want := "postgres://u:p@db:5432/safereport?sslmode=disable&search_path=public"
	if got := c.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
