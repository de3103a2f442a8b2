package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration structure
type Config struct {
	Global     GlobalConfig     `yaml:"global"`
	Targets    TargetsConfig    `yaml:"targets"`
	Polling    PollingConfig    `yaml:"polling"`
	Directory  DirectoryConfig  `yaml:"directory"`
	Middleware MiddlewareConfig `yaml:"middleware"`
	TLS        TLSConfig        `yaml:"tls"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// GlobalConfig holds global server settings
type GlobalConfig struct {
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig defines the dashboard listener settings
type ServerConfig struct {
	HTTPPort      int           `yaml:"http_port"`
	HTTPSPort     int           `yaml:"https_port"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	MaxHeaderSize int           `yaml:"max_header_size"`
}

// LogConfig defines logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TargetsConfig describes which edge API instances are polled.
//
// The server-only and public variants carry the same concept; the
// server-only value wins when both are present.
type TargetsConfig struct {
	APIURL        string `yaml:"api_url"`
	PublicAPIURL  string `yaml:"public_api_url"`
	APIURLs       string `yaml:"api_urls"`
	PublicAPIURLs string `yaml:"public_api_urls"`
	FallbackLabel string `yaml:"fallback_label"`
	Environment   string `yaml:"environment"`
}

// BaseURL returns the single-target base URL.
func (t TargetsConfig) BaseURL() string {
	if t.APIURL != "" {
		return t.APIURL
	}
	return t.PublicAPIURL
}

// TargetList returns the raw multi-target list in label|url,label|url form.
func (t TargetsConfig) TargetList() string {
	if t.APIURLs != "" {
		return t.APIURLs
	}
	return t.PublicAPIURLs
}

// PollingConfig defines how often targets are polled and rotated
type PollingConfig struct {
	Interval      time.Duration `yaml:"interval"`
	CycleInterval time.Duration `yaml:"cycle_interval"`
	Timeout       time.Duration `yaml:"timeout"`
	SkipImmediate bool          `yaml:"skip_immediate"`
	MaxUnits      int           `yaml:"max_units"`
}

// DirectoryConfig defines seed discovery and endpoint probing
type DirectoryConfig struct {
	Enabled          bool          `yaml:"enabled"`
	APIBase          string        `yaml:"api_base"`
	Interval         time.Duration `yaml:"interval"`
	OverviewInterval time.Duration `yaml:"overview_interval"`
	BaseLabel        string        `yaml:"base_label"`
}

// MiddlewareConfig defines the dashboard middleware chain
type MiddlewareConfig struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Compression CompressionConfig `yaml:"compression"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Auth        AuthConfig        `yaml:"auth"`
}

// LoggingConfig defines request logging
type LoggingConfig struct {
	Enabled    bool `yaml:"enabled"`
	LogHeaders bool `yaml:"log_headers"`
}

// CompressionConfig defines gzip response compression
type CompressionConfig struct {
	Enabled   bool `yaml:"enabled"`
	Level     int  `yaml:"level"`
	MinLength int  `yaml:"min_length"`
}

// RateLimitConfig defines per-client request limits
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	KeyFunc           string  `yaml:"key_func"`
}

// AuthConfig defines JWT authentication for the dashboard API
type AuthConfig struct {
	Enabled   bool     `yaml:"enabled"`
	JWTSecret string   `yaml:"jwt_secret"`
	JWTIssuer string   `yaml:"jwt_issuer"`
	SkipPaths []string `yaml:"skip_paths"`

	// RebootRole, when set, is the role a token needs to reboot a target.
	RebootRole string `yaml:"reboot_role"`
}

// TLSConfig defines TLS settings
type TLSConfig struct {
	Enabled      bool                `yaml:"enabled"`
	AutoCert     AutoCertConfig      `yaml:"autocert"`
	Certificates []CertificateConfig `yaml:"certificates,omitempty"`
}

// AutoCertConfig defines Let's Encrypt configuration
type AutoCertConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Email    string   `yaml:"email"`
	Hosts    []string `yaml:"hosts"`
	CacheDir string   `yaml:"cache_dir"`
	Staging  bool     `yaml:"staging"`
}

// CertificateConfig defines manual certificate configuration
type CertificateConfig struct {
	Hosts    []string `yaml:"hosts"`
	CertFile string   `yaml:"cert_file"`
	KeyFile  string   `yaml:"key_file"`
	// SelfSigned writes a self-signed pair to CertFile/KeyFile when they
	// are missing or about to expire. Meant for local dashboards.
	SelfSigned bool          `yaml:"self_signed"`
	ValidFor   time.Duration `yaml:"valid_for"`
}

// MetricsConfig defines metrics settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// LookupFunc resolves an environment variable.
type LookupFunc func(key string) (string, bool)

// LoadConfig loads configuration from the specified directory and
// applies overrides from the process environment.
func LoadConfig(configDir string) (*Config, error) {
	return LoadConfigWithEnv(configDir, os.LookupEnv)
}

// LoadConfigWithEnv loads configuration from configDir, resolving
// environment overrides through lookup.
func LoadConfigWithEnv(configDir string, lookup LookupFunc) (*Config, error) {
	config := &Config{}

	files := []struct {
		name     string
		target   any
		required bool
	}{
		{"global.yaml", &config.Global, true},
		{"targets.yaml", &config.Targets, true},
		{"polling.yaml", &config.Polling, false},
		{"directory.yaml", &config.Directory, false},
		{"middleware.yaml", &config.Middleware, false},
		{"tls.yaml", &config.TLS, false},
		{"metrics.yaml", &config.Metrics, false},
	}

	for _, f := range files {
		err := loadYAMLFile(filepath.Join(configDir, f.name), f.target)
		if err == nil {
			continue
		}
		if !f.required && errors.Is(err, fs.ErrNotExist) {
			continue
		}
		return nil, fmt.Errorf("failed to load %s: %w", f.name, err)
	}

	applyEnv(config, lookup)
	setDefaults(config)

	return config, nil
}

// loadYAMLFile loads a YAML file into the provided structure
func loadYAMLFile(filename string, v any) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, v)
}

// applyEnv overrides target settings with the environment variables the
// dashboard tooling has always used.
func applyEnv(config *Config, lookup LookupFunc) {
	if lookup == nil {
		return
	}

	get := func(key string) string {
		v, ok := lookup(key)
		if !ok {
			return ""
		}
		return strings.TrimSpace(v)
	}

	if v := get("EDGECTL_API_URL"); v != "" {
		config.Targets.APIURL = v
	}
	if v := get("NEXT_PUBLIC_EDGECTL_API_URL"); v != "" {
		config.Targets.PublicAPIURL = v
	}
	if v := get("EDGECTL_API_URLS"); v != "" {
		config.Targets.APIURLs = v
	}
	if v := get("NEXT_PUBLIC_EDGECTL_API_URLS"); v != "" {
		config.Targets.PublicAPIURLs = v
	}

	for _, key := range []string{"NEXT_PUBLIC_EDGECTL_ENV", "VERCEL_ENV", "NODE_ENV"} {
		if v := get(key); v != "" {
			config.Targets.Environment = v
			break
		}
	}
}

// setDefaults sets default values for configuration
func setDefaults(config *Config) {
	if config.Global.Server.HTTPPort == 0 {
		config.Global.Server.HTTPPort = 8080
	}
	if config.Global.Server.HTTPSPort == 0 {
		config.Global.Server.HTTPSPort = 8443
	}
	if config.Global.Server.ReadTimeout == 0 {
		config.Global.Server.ReadTimeout = 30 * time.Second
	}
	if config.Global.Server.WriteTimeout == 0 {
		config.Global.Server.WriteTimeout = 30 * time.Second
	}
	if config.Global.Server.IdleTimeout == 0 {
		config.Global.Server.IdleTimeout = 60 * time.Second
	}
	if config.Global.Server.MaxHeaderSize == 0 {
		config.Global.Server.MaxHeaderSize = 1024 * 1024 // 1MB
	}
	if config.Global.Log.Level == "" {
		config.Global.Log.Level = "info"
	}
	if config.Global.Log.Format == "" {
		config.Global.Log.Format = "json"
	}
	if config.Targets.FallbackLabel == "" {
		config.Targets.FallbackLabel = "edge-api"
	}
	if config.Targets.Environment == "" {
		config.Targets.Environment = "local"
	}
	if config.Polling.Interval == 0 {
		config.Polling.Interval = 5 * time.Second
	}
	if config.Polling.MaxUnits == 0 {
		config.Polling.MaxUnits = 3
	}
	if config.Directory.APIBase == "" {
		config.Directory.APIBase = config.Targets.BaseURL()
	}
	if config.Directory.Interval == 0 {
		config.Directory.Interval = 10 * time.Second
	}
	if config.Directory.OverviewInterval == 0 {
		config.Directory.OverviewInterval = 15 * time.Second
	}
	if config.Directory.BaseLabel == "" {
		config.Directory.BaseLabel = "ghost"
	}
	if config.Middleware.Compression.MinLength == 0 {
		config.Middleware.Compression.MinLength = 1024
	}
	if config.Middleware.RateLimit.RequestsPerSecond == 0 {
		config.Middleware.RateLimit.RequestsPerSecond = 10
	}
	if config.Middleware.RateLimit.Burst == 0 {
		config.Middleware.RateLimit.Burst = 20
	}
	if config.Middleware.RateLimit.KeyFunc == "" {
		config.Middleware.RateLimit.KeyFunc = "ip"
	}
	if len(config.Middleware.Auth.SkipPaths) == 0 {
		config.Middleware.Auth.SkipPaths = []string{"/healthz"}
	}
	if config.Metrics.Port == 0 {
		config.Metrics.Port = 9090
	}
	if config.Metrics.Path == "" {
		config.Metrics.Path = "/metrics"
	}
	if config.Metrics.Namespace == "" {
		config.Metrics.Namespace = "edgeboard"
	}
	if config.TLS.AutoCert.CacheDir == "" {
		config.TLS.AutoCert.CacheDir = "./certs"
	}
}
