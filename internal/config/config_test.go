package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Auth.JWTSecret = "secret"
	cfg.Auth.APIKey = "key"
	return cfg
}

func TestDefaultNeedsSecrets(t *testing.T) {
	if err := Default().Validate(); err == nil {
		t.Fatal("default config validated without secrets")
	}
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no content types", func(c *Config) { c.Artifacts.AllowedContentTypes = nil }},
		{"blank content type", func(c *Config) { c.Artifacts.AllowedContentTypes = []string{" "} }},
		{"zero max upload", func(c *Config) { c.Artifacts.MaxUploadBytes = 0 }},
		{"zero presign expiry", func(c *Config) { c.Artifacts.PresignExpirySeconds = 0 }},
		{"no storage url", func(c *Config) { c.Artifacts.StorageBaseURL = "" }},
		{"zero rate limit", func(c *Config) { c.RateLimit.Requests = 0 }},
		{"zero window", func(c *Config) { c.RateLimit.WindowSeconds = 0 }},
		{"threshold above 100", func(c *Config) { c.Gate.CoverageThreshold = 101 }},
		{"webhook without url", func(c *Config) { c.Webhooks = []WebhookConfig{{}} }},
	}
	for _, tc := range cases {
		cfg := validConfig()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: validation passed", tc.name)
		}
	}
}

func TestContentTypeAllowed(t *testing.T) {
	cfg := validConfig()
	if !cfg.ContentTypeAllowed("application/json") {
		t.Fatal("application/json rejected")
	}
	if !cfg.ContentTypeAllowed(" Application/JSON ") {
		t.Fatal("content type match is not case-insensitive")
	}
	if cfg.ContentTypeAllowed("application/x-msdownload") {
		t.Fatal("unlisted content type allowed")
	}
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	data := []byte(`
auth:
  jwt_secret: s3cret
  api_key: k3y
gate:
  coverage_threshold: 92.5
  require_pass_for_approval: true
`)
	cfg, err := FromYAML(data)
	if err != nil {
		t.Fatalf("from yaml: %v", err)
	}
	if cfg.Auth.JWTSecret != "s3cret" {
		t.Fatalf("jwt secret = %q", cfg.Auth.JWTSecret)
	}
	if cfg.Gate.CoverageThreshold != 92.5 || !cfg.Gate.RequirePassForApproval {
		t.Fatalf("gate config not applied: %+v", cfg.Gate)
	}
	// Untouched sections keep their defaults.
	if cfg.Server.Addr != "127.0.0.1:8080" {
		t.Fatalf("server addr default lost: %q", cfg.Server.Addr)
	}
	if cfg.RateLimit.Requests != 120 {
		t.Fatalf("rate limit default lost: %d", cfg.RateLimit.Requests)
	}
}

func TestFromYAMLRejectsGarbage(t *testing.T) {
	if _, err := FromYAML([]byte("{not yaml")); err == nil {
		t.Fatal("garbage yaml accepted")
	}
}

func TestLoadOptional(t *testing.T) {
	workspace := t.TempDir()
	cfg, err := LoadOptional(workspace)
	if err != nil {
		t.Fatalf("load optional without file: %v", err)
	}
	if cfg.Server.BasePath != "/api/v1" {
		t.Fatalf("defaults not returned: %+v", cfg.Server)
	}

	path := filepath.Join(workspace, "forgegate.yml")
	if err := os.WriteFile(path, []byte("server:\n  addr: 0.0.0.0:9999\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err = LoadOptional(workspace)
	if err != nil {
		t.Fatalf("load optional with file: %v", err)
	}
	if cfg.Server.Addr != "0.0.0.0:9999" {
		t.Fatalf("file config not applied: %q", cfg.Server.Addr)
	}
}
