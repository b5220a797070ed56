package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SOUNDSHELF_AUTH_SESSIONSECRET", "0123456789abcdef0123")
	t.Setenv("SOUNDSHELF_SERVER_ADDR", "127.0.0.1:9999")
	t.Setenv("SOUNDSHELF_INGEST_MAXCONCURRENT", "7")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9999" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Ingest.MaxConcurrent != 7 {
		t.Errorf("max concurrent = %d", cfg.Ingest.MaxConcurrent)
	}
	if cfg.Database.Path != "data/soundshelf.db" || cfg.Auth.SessionTTLHours != 720 || cfg.SoundCloud.PageSize != 50 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.ArchiveEnabled() {
		t.Error("archiving must be off without a bucket")
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Chdir(t.TempDir())
	file := filepath.Join(t.TempDir(), "soundshelf.yaml")
	content := `
auth:
  sessionsecret: file-secret-0123456789
storage:
  bucket: snapshots
server:
  allowedorigins:
    - http://localhost:3000
`
	if err := os.WriteFile(file, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.ArchiveEnabled() || cfg.Storage.KeyPrefix != "soundshelf-snapshots" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "http://localhost:3000" {
		t.Errorf("allowed origins = %v", cfg.Server.AllowedOrigins)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for a missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		var c Config
		c.Auth.SessionSecret = "0123456789abcdef"
		c.Auth.SessionTTLHours = 1
		c.Push.TokenTTLSeconds = 60
		c.SoundCloud.PageSize = 50
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"Valid", func(*Config) {}, false},
		{"MissingSecret", func(c *Config) { c.Auth.SessionSecret = "" }, true},
		{"ShortSecret", func(c *Config) { c.Auth.SessionSecret = "short" }, true},
		{"ZeroSessionTTL", func(c *Config) { c.Auth.SessionTTLHours = 0 }, true},
		{"ZeroPushTTL", func(c *Config) { c.Push.TokenTTLSeconds = 0 }, true},
		{"PageSizeTooLarge", func(c *Config) { c.SoundCloud.PageSize = 500 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
