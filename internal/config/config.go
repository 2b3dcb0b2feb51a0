package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models forgegate.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		Issuer    string `yaml:"issuer"`
		Audience  string `yaml:"audience"`
		APIKey    string `yaml:"api_key"`
	} `yaml:"auth"`
	Artifacts struct {
		AllowedContentTypes  []string `yaml:"allowed_content_types"`
		MaxUploadBytes       int64    `yaml:"max_upload_bytes"`
		PresignExpirySeconds int      `yaml:"presign_expiry_seconds"`
		StorageBaseURL       string   `yaml:"storage_base_url"`
		SigningSecret        string   `yaml:"signing_secret,omitempty"`
	} `yaml:"artifacts"`
	RateLimit struct {
		Requests      int    `yaml:"requests"`
		WindowSeconds int    `yaml:"window_seconds"`
		RedisAddr     string `yaml:"redis_addr"`
	} `yaml:"rate_limit"`
	Gate struct {
		CoverageThreshold      float64 `yaml:"coverage_threshold"`
		RequirePassForApproval bool    `yaml:"require_pass_for_approval"`
	} `yaml:"gate"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
}

// WebhookConfig describes an audit-feed delivery target.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret,omitempty"`
	Actions        []string `yaml:"actions,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

// Default returns a Config with development defaults applied. Secrets are
// intentionally left empty; Validate rejects a config without them.
func Default() *Config {
	var cfg Config
	cfg.Server.Addr = "127.0.0.1:8080"
	cfg.Server.BasePath = "/api/v1"
	cfg.Artifacts.AllowedContentTypes = []string{
		"application/json",
		"application/gzip",
		"application/zip",
		"text/plain",
	}
	cfg.Artifacts.MaxUploadBytes = 128 << 20
	cfg.Artifacts.PresignExpirySeconds = 900
	cfg.Artifacts.StorageBaseURL = "http://127.0.0.1:9000/forgegate"
	cfg.RateLimit.Requests = 120
	cfg.RateLimit.WindowSeconds = 60
	cfg.Gate.CoverageThreshold = 80
	return &cfg
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("config.auth.jwt_secret is required")
	}
	if strings.TrimSpace(c.Auth.APIKey) == "" {
		return fmt.Errorf("config.auth.api_key is required")
	}
	if len(c.Artifacts.AllowedContentTypes) == 0 {
		return fmt.Errorf("config.artifacts.allowed_content_types must not be empty")
	}
	for _, ct := range c.Artifacts.AllowedContentTypes {
		if strings.TrimSpace(ct) == "" {
			return fmt.Errorf("config.artifacts.allowed_content_types contains empty entry")
		}
	}
	if c.Artifacts.MaxUploadBytes <= 0 {
		return fmt.Errorf("config.artifacts.max_upload_bytes must be positive")
	}
	if c.Artifacts.PresignExpirySeconds <= 0 {
		return fmt.Errorf("config.artifacts.presign_expiry_seconds must be positive")
	}
	if strings.TrimSpace(c.Artifacts.StorageBaseURL) == "" {
		return fmt.Errorf("config.artifacts.storage_base_url is required")
	}
	if c.RateLimit.Requests <= 0 {
		return fmt.Errorf("config.rate_limit.requests must be positive")
	}
	if c.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("config.rate_limit.window_seconds must be positive")
	}
	if c.Gate.CoverageThreshold < 0 || c.Gate.CoverageThreshold > 100 {
		return fmt.Errorf("config.gate.coverage_threshold must be in [0,100]")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// ContentTypeAllowed reports whether ct is in the configured allow-list.
func (c *Config) ContentTypeAllowed(ct string) bool {
	for _, allowed := range c.Artifacts.AllowedContentTypes {
		if strings.EqualFold(strings.TrimSpace(allowed), strings.TrimSpace(ct)) {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "forgegate.yml")
}

// FromYAML parses config from raw YAML on top of defaults. Validation is the
// caller's responsibility so env overrides can be applied first.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns defaults if the workspace config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}
