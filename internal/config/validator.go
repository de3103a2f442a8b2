package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"
)

// ValidateConfig validates the entire configuration
func ValidateConfig(config *Config, log *zap.Logger) error {
	if err := validateGlobalConfig(&config.Global); err != nil {
		log.Error("Global config validation failed", zap.Error(err))
		return fmt.Errorf("global config validation failed: %w", err)
	}

	if err := validateTargetsConfig(&config.Targets, log); err != nil {
		log.Error("Targets config validation failed", zap.Error(err))
		return fmt.Errorf("targets config validation failed: %w", err)
	}

	if err := validatePollingConfig(&config.Polling); err != nil {
		log.Error("Polling config validation failed", zap.Error(err))
		return fmt.Errorf("polling config validation failed: %w", err)
	}

	if err := validateDirectoryConfig(&config.Directory); err != nil {
		log.Error("Directory config validation failed", zap.Error(err))
		return fmt.Errorf("directory config validation failed: %w", err)
	}

	if err := validateMiddlewareConfig(&config.Middleware); err != nil {
		log.Error("Middleware config validation failed", zap.Error(err))
		return fmt.Errorf("middleware config validation failed: %w", err)
	}

	if err := validateTLSConfig(&config.TLS, log); err != nil {
		log.Error("TLS config validation failed", zap.Error(err))
		return fmt.Errorf("TLS config validation failed: %w", err)
	}

	if err := validateMetricsConfig(&config.Metrics, &config.Global.Server); err != nil {
		log.Error("Metrics config validation failed", zap.Error(err))
		return fmt.Errorf("metrics config validation failed: %w", err)
	}

	return nil
}

// validateGlobalConfig validates global configuration
func validateGlobalConfig(config *GlobalConfig) error {
	server := &config.Server
	err := validation.ValidateStruct(server,
		validation.Field(&server.HTTPPort, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&server.HTTPSPort, validation.Min(1), validation.Max(65535),
			validation.NotIn(server.HTTPPort).Error("must differ from http_port")),
		validation.Field(&server.ReadTimeout, validation.Min(time.Duration(0))),
		validation.Field(&server.WriteTimeout, validation.Min(time.Duration(0))),
		validation.Field(&server.IdleTimeout, validation.Min(time.Duration(0))),
		validation.Field(&server.MaxHeaderSize, validation.Min(1024)),
	)
	if err != nil {
		return err
	}

	log := &config.Log
	return validation.ValidateStruct(log,
		validation.Field(&log.Level, validation.Required, validation.In("debug", "info", "warn", "error")),
		validation.Field(&log.Format, validation.Required, validation.In("json", "text")),
	)
}

// validateTargetsConfig validates the configured API targets. An empty
// target set is allowed: the dashboard reports it instead of refusing to start.
func validateTargetsConfig(config *TargetsConfig, log *zap.Logger) error {
	err := validation.ValidateStruct(config,
		validation.Field(&config.APIURL, validation.By(httpURL)),
		validation.Field(&config.PublicAPIURL, validation.By(httpURL)),
		validation.Field(&config.APIURLs, validation.By(targetList)),
		validation.Field(&config.PublicAPIURLs, validation.By(targetList)),
	)
	if err != nil {
		return err
	}

	if config.BaseURL() == "" && config.TargetList() == "" {
		log.Warn("No API target configured; status will report a configuration error")
	}

	return nil
}

// validatePollingConfig validates poll and rotation intervals
func validatePollingConfig(config *PollingConfig) error {
	return validation.ValidateStruct(config,
		validation.Field(&config.Interval, validation.Required, validation.Min(100*time.Millisecond)),
		validation.Field(&config.CycleInterval, validation.Min(time.Duration(0))),
		validation.Field(&config.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&config.MaxUnits, validation.Min(1), validation.Max(4)),
	)
}

// validateDirectoryConfig validates seed discovery settings
func validateDirectoryConfig(config *DirectoryConfig) error {
	return validation.ValidateStruct(config,
		validation.Field(&config.APIBase,
			validation.When(config.Enabled, validation.Required.Error("is required when the directory is enabled")),
			validation.By(httpURL)),
		validation.Field(&config.Interval, validation.Min(100*time.Millisecond)),
		validation.Field(&config.OverviewInterval, validation.Min(100*time.Millisecond)),
	)
}

// validateMiddlewareConfig validates middleware configuration
func validateMiddlewareConfig(config *MiddlewareConfig) error {
	compression := &config.Compression
	if err := validation.ValidateStruct(compression,
		validation.Field(&compression.Level, validation.Min(-1), validation.Max(9)),
		validation.Field(&compression.MinLength, validation.Min(0)),
	); err != nil {
		return fmt.Errorf("compression: %w", err)
	}

	rateLimit := &config.RateLimit
	if err := validation.ValidateStruct(rateLimit,
		validation.Field(&rateLimit.RequestsPerSecond, validation.Min(0.0)),
		validation.Field(&rateLimit.Burst, validation.Min(1)),
		validation.Field(&rateLimit.KeyFunc, validation.In("ip", "user", "global")),
	); err != nil {
		return fmt.Errorf("rate_limit: %w", err)
	}

	auth := &config.Auth
	if err := validation.ValidateStruct(auth,
		validation.Field(&auth.JWTSecret, validation.When(auth.Enabled, validation.Required, validation.Length(16, 0))),
		validation.Field(&auth.SkipPaths, validation.Each(validation.By(absolutePath))),
	); err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	return nil
}

// validateTLSConfig validates TLS configuration
func validateTLSConfig(config *TLSConfig, log *zap.Logger) error {
	if !config.Enabled {
		log.Debug("TLS is disabled")
		return nil
	}

	autoCert := &config.AutoCert
	if err := validation.ValidateStruct(autoCert,
		validation.Field(&autoCert.Email, validation.When(autoCert.Enabled, validation.Required)),
		validation.Field(&autoCert.Hosts, validation.When(autoCert.Enabled, validation.Required),
			validation.Each(validation.Required)),
		validation.Field(&autoCert.CacheDir, validation.When(autoCert.Enabled, validation.Required)),
	); err != nil {
		return fmt.Errorf("autocert: %w", err)
	}

	if !autoCert.Enabled && len(config.Certificates) == 0 {
		return errors.New("TLS is enabled but neither autocert nor certificates are configured")
	}

	for i := range config.Certificates {
		cert := &config.Certificates[i]
		if err := validation.ValidateStruct(cert,
			validation.Field(&cert.Hosts, validation.Required, validation.Each(validation.Required)),
			validation.Field(&cert.CertFile, validation.Required),
			validation.Field(&cert.KeyFile, validation.Required),
			validation.Field(&cert.ValidFor, validation.Min(time.Duration(0))),
		); err != nil {
			return fmt.Errorf("certificate %d: %w", i, err)
		}
	}

	return nil
}

// validateMetricsConfig validates metrics settings
func validateMetricsConfig(config *MetricsConfig, server *ServerConfig) error {
	if !config.Enabled {
		return nil
	}

	return validation.ValidateStruct(config,
		validation.Field(&config.Port, validation.Required, validation.Min(1), validation.Max(65535),
			validation.NotIn(server.HTTPPort, server.HTTPSPort).Error("must differ from the dashboard ports")),
		validation.Field(&config.Path, validation.Required, validation.By(absolutePath)),
		validation.Field(&config.Namespace, validation.Required),
	)
}

// httpURL checks that a non-empty string is an absolute http(s) URL
func httpURL(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}

	parsed, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("URL scheme must be http or https")
	}
	if parsed.Host == "" {
		return errors.New("URL must have a host")
	}

	return nil
}

// targetList checks every URL in a label|url,label|url list
func targetList(value any) error {
	s, _ := value.(string)
	for i, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		rawURL := entry
		if _, after, found := strings.Cut(entry, "|"); found {
			rawURL = strings.TrimSpace(after)
		}
		if rawURL == "" {
			return fmt.Errorf("entry %d has no URL", i)
		}
		if err := httpURL(rawURL); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return nil
}

// absolutePath checks that a path starts with '/'
func absolutePath(value any) error {
	s, _ := value.(string)
	if s != "" && !strings.HasPrefix(s, "/") {
		return errors.New("must start with '/'")
	}
	return nil
}
