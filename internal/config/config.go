// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads docrelay configuration from an optional YAML file,
// environment overrides and secret references.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/docrelay/internal/secrets"
	relayerrors "github.com/tombee/docrelay/pkg/errors"
)

const (
	// DefaultListen is the default server listen address.
	DefaultListen = ":8080"

	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second

	// DefaultMaxBatchOperations is the default per-request operation ceiling.
	DefaultMaxBatchOperations = 100

	// MinMaxBatchOperations is the smallest usable ceiling: one cell edit is two operations.
	MinMaxBatchOperations = 2

	// DefaultTenant is the Azure AD tenant used when none is configured.
	DefaultTenant = "common"

	// DefaultMaxRetries is the retry ceiling when max_retries is not set.
	DefaultMaxRetries = 5
)

// Config is the root docrelay configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Seal         SealConfig         `yaml:"seal"`
	Log          LogConfig          `yaml:"log"`
	Tracing      TracingConfig      `yaml:"tracing"`
	Destinations DestinationsConfig `yaml:"destinations"`
}

// ServerConfig configures the HTTP endpoint the orchestrator calls.
type ServerConfig struct {
	// Listen is the TCP address to bind.
	Listen string `yaml:"listen"`

	// BaseURL is the public URL the orchestrator and browsers reach this server at.
	BaseURL string `yaml:"base_url"`

	// Token is a static bearer token required on orchestrator calls.
	Token string `yaml:"token"`

	// JWTSecret enables HS256 bearer JWT authentication.
	JWTSecret string `yaml:"jwt_secret"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// SealConfig selects the handshake state sealing scheme.
type SealConfig struct {
	// Mode is "aead" or "age".
	Mode string `yaml:"mode"`

	// Key is the master key (aead) or X25519 identity (age).
	Key string `yaml:"key"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Exporter is one of stdout, otlp (gRPC) or otlp_http.
	Exporter string `yaml:"exporter"`

	// Endpoint is the collector address for the otlp exporters. When empty
	// the exporter falls back to OTEL_EXPORTER_OTLP_ENDPOINT.
	Endpoint string `yaml:"endpoint"`

	Insecure bool `yaml:"insecure"`

	// SampleRate is the fraction of traces kept, 0 < rate <= 1.
	SampleRate float64 `yaml:"sample_rate"`
}

// DestinationsConfig holds per-destination settings.
type DestinationsConfig struct {
	GoogleDocs     DestinationConfig `yaml:"google_docs"`
	SharePointWord DestinationConfig `yaml:"sharepoint_word"`
}

// DestinationConfig configures one destination action.
type DestinationConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`

	// Tenant is the Azure AD tenant. Only used by SharePoint.
	Tenant string `yaml:"tenant,omitempty"`

	Retry RetryConfig `yaml:"retry"`

	// MaxBatchOperations caps operations per vendor mutation request.
	MaxBatchOperations int `yaml:"max_batch_operations"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// Configured reports whether both OAuth client credentials are present.
func (d DestinationConfig) Configured() bool {
	return d.ClientID != "" && d.ClientSecret != ""
}

// RetryConfig configures the retry policy for vendor calls.
type RetryConfig struct {
	Enabled   bool    `yaml:"enabled"`
	BaseDelay float64 `yaml:"base_delay"`

	// MaxRetries is the retry ceiling. It defaults to DefaultMaxRetries when
	// absent from the file; an explicit 0 makes a single attempt per call.
	MaxRetries int `yaml:"max_retries"`
}

// RateLimitConfig throttles outbound vendor requests. Zero disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.Destinations.GoogleDocs.Retry.MaxRetries = DefaultMaxRetries
	cfg.Destinations.SharePointWord.Retry.MaxRetries = DefaultMaxRetries
	cfg.applyDefaults()
	return cfg
}

// Load loads configuration from an optional YAML file, then environment
// variables, then resolves secret references. Environment variables take
// precedence over the file.
func Load(configPath string) (*Config, error) {
	return LoadWithResolver(context.Background(), configPath, secrets.NewDefaultResolver())
}

// LoadWithResolver is Load with an explicit secret resolver.
func LoadWithResolver(ctx context.Context, configPath string, resolver *secrets.Resolver) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &relayerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv(os.LookupEnv)

	if err := cfg.resolveSecrets(ctx, resolver); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, &relayerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// applyDefaults fills in zero values.
func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Seal.Mode == "" {
		c.Seal.Mode = "aead"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "stdout"
	}
	if c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = 1
	}
	c.Destinations.GoogleDocs.applyDefaults()
	c.Destinations.SharePointWord.applyDefaults()
	if c.Destinations.SharePointWord.Tenant == "" {
		c.Destinations.SharePointWord.Tenant = DefaultTenant
	}
}

func (d *DestinationConfig) applyDefaults() {
	if d.Retry.BaseDelay == 0 {
		d.Retry.BaseDelay = 3
	}
	if d.MaxBatchOperations == 0 {
		d.MaxBatchOperations = DefaultMaxBatchOperations
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// loadFromEnv applies environment overrides. Unparseable numeric values
// are ignored.
func (c *Config) loadFromEnv(lookup func(string) (string, bool)) {
	get := func(name string) string {
		v, _ := lookup(name)
		return strings.TrimSpace(v)
	}

	// Server configuration
	if val := get("DOCRELAY_LISTEN"); val != "" {
		c.Server.Listen = val
	}
	if val := get("ACTION_HUB_BASE_URL"); val != "" {
		c.Server.BaseURL = val
	}
	if val := get("DOCRELAY_TOKEN"); val != "" {
		c.Server.Token = val
	}
	if val := get("DOCRELAY_JWT_SECRET"); val != "" {
		c.Server.JWTSecret = val
	}
	if val := get("DOCRELAY_SHUTDOWN_TIMEOUT"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Server.ShutdownTimeout = duration
		}
	}

	// Sealing
	if val := get("DOCRELAY_SEAL_MODE"); val != "" {
		c.Seal.Mode = strings.ToLower(val)
	}
	if val := get("CIPHER_MASTER"); val != "" {
		c.Seal.Key = val
	}

	// Log configuration
	if val := get("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := get("DOCRELAY_LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := get("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := get("LOG_SOURCE"); val != "" {
		c.Log.AddSource = val == "1" || strings.ToLower(val) == "true"
	}

	if val := get("DOCRELAY_TRACING"); val != "" {
		c.Tracing.Enabled = envFlag(val)
	}
	if val := get("DOCRELAY_TRACING_EXPORTER"); val != "" {
		c.Tracing.Exporter = strings.ToLower(val)
	}
	if val := get("DOCRELAY_TRACING_ENDPOINT"); val != "" {
		c.Tracing.Endpoint = val
	}
	if val := get("DOCRELAY_TRACING_SAMPLE_RATE"); val != "" {
		if rate, err := strconv.ParseFloat(val, 64); err == nil {
			c.Tracing.SampleRate = rate
		}
	}

	// Google Docs
	gd := &c.Destinations.GoogleDocs
	if val := get("GOOGLE_DOC_CLIENT_ID"); val != "" {
		gd.ClientID = val
	}
	if val := get("GOOGLE_DOC_CLIENT_SECRET"); val != "" {
		gd.ClientSecret = val
	}
	gd.loadTuning(get, "GOOGLE_DOCS")

	// SharePoint Word
	sp := &c.Destinations.SharePointWord
	if val := get("SHAREPOINT_CLIENT_ID"); val != "" {
		sp.ClientID = val
	}
	if val := get("SHAREPOINT_CLIENT_SECRET"); val != "" {
		sp.ClientSecret = val
	}
	if val := get("SHAREPOINT_TENANT"); val != "" {
		sp.Tenant = val
	}
	sp.loadTuning(get, "SHAREPOINT_WORD")
}

// loadTuning reads <PREFIX>_RETRY, <PREFIX>_BASE_DELAY and <PREFIX>_WRITE_BATCH.
func (d *DestinationConfig) loadTuning(get func(string) string, prefix string) {
	if val := get(prefix + "_RETRY"); val != "" {
		d.Retry.Enabled = envFlag(val)
	}
	if val := get(prefix + "_BASE_DELAY"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			d.Retry.BaseDelay = f
		}
	}
	if val := get(prefix + "_WRITE_BATCH"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			d.MaxBatchOperations = n
		}
	}
}

// envFlag treats any non-empty value as set, except explicit false values.
func envFlag(val string) bool {
	switch strings.ToLower(val) {
	case "0", "false", "no", "off":
		return false
	}
	return true
}

// resolveSecrets replaces "secret:<key>" values with the referenced secret.
func (c *Config) resolveSecrets(ctx context.Context, resolver *secrets.Resolver) error {
	fields := []struct {
		key   string
		value *string
	}{
		{"server.token", &c.Server.Token},
		{"server.jwt_secret", &c.Server.JWTSecret},
		{"seal.key", &c.Seal.Key},
		{"destinations.google_docs.client_id", &c.Destinations.GoogleDocs.ClientID},
		{"destinations.google_docs.client_secret", &c.Destinations.GoogleDocs.ClientSecret},
		{"destinations.sharepoint_word.client_id", &c.Destinations.SharePointWord.ClientID},
		{"destinations.sharepoint_word.client_secret", &c.Destinations.SharePointWord.ClientSecret},
	}

	for _, f := range fields {
		if !secrets.IsReference(*f.value) {
			continue
		}
		if resolver == nil {
			return &relayerrors.ConfigError{Key: f.key, Reason: "secret reference without a resolver"}
		}
		resolved, err := resolver.Resolve(ctx, *f.value)
		if err != nil {
			return &relayerrors.ConfigError{
				Key:    f.key,
				Reason: "failed to resolve secret reference",
				Cause:  err,
			}
		}
		*f.value = resolved
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Listen == "" {
		errs = append(errs, "server.listen must be set")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("server.shutdown_timeout must be positive, got %v", c.Server.ShutdownTimeout))
	}

	if c.Seal.Mode != "aead" && c.Seal.Mode != "age" {
		errs = append(errs, fmt.Sprintf("seal.mode must be one of [aead, age], got %q", c.Seal.Mode))
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	validExporters := map[string]bool{"stdout": true, "otlp": true, "otlp_http": true}
	if !validExporters[c.Tracing.Exporter] {
		errs = append(errs, fmt.Sprintf("tracing.exporter must be one of [stdout, otlp, otlp_http], got %q", c.Tracing.Exporter))
	}
	if c.Tracing.SampleRate <= 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_rate must be in (0, 1], got %v", c.Tracing.SampleRate))
	}

	errs = append(errs, c.Destinations.GoogleDocs.validate("destinations.google_docs")...)
	errs = append(errs, c.Destinations.SharePointWord.validate("destinations.sharepoint_word")...)

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func (d DestinationConfig) validate(prefix string) []string {
	var errs []string
	if d.MaxBatchOperations < MinMaxBatchOperations {
		errs = append(errs, fmt.Sprintf("%s.max_batch_operations must be at least %d, got %d", prefix, MinMaxBatchOperations, d.MaxBatchOperations))
	}
	if d.Retry.BaseDelay < 1 {
		errs = append(errs, fmt.Sprintf("%s.retry.base_delay must be at least 1, got %v", prefix, d.Retry.BaseDelay))
	}
	if d.Retry.MaxRetries < 0 {
		errs = append(errs, fmt.Sprintf("%s.retry.max_retries must not be negative, got %d", prefix, d.Retry.MaxRetries))
	}
	if d.RateLimit.RequestsPerSecond < 0 || d.RateLimit.Burst < 0 {
		errs = append(errs, fmt.Sprintf("%s.rate_limit must not be negative", prefix))
	}
	return errs
}

// ValidateServe checks the settings only the server needs.
func (c *Config) ValidateServe() error {
	if c.Server.BaseURL == "" {
		return &relayerrors.ConfigError{Key: "server.base_url", Reason: "must be set (ACTION_HUB_BASE_URL)"}
	}
	if c.Seal.Key == "" {
		return &relayerrors.ConfigError{Key: "seal.key", Reason: "must be set (CIPHER_MASTER)"}
	}
	return nil
}
