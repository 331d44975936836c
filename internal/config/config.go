package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"pingme/internal/constants"
	"pingme/internal/models"
	"pingme/internal/security"
	"pingme/internal/validation"

	"gopkg.in/yaml.v3"
)

var (
	ErrMissingDBPath      = models.ConfigError{Message: "missing database path"}
	ErrMissingMediaDir    = models.ConfigError{Message: "missing media directory"}
	ErrMissingTokenSecret = models.ConfigError{Message: "missing token secret (set PINGME_TOKEN_SECRET)"}
	ErrWeakTokenSecret    = models.ConfigError{Message: fmt.Sprintf("token secret must be at least %d characters long", constants.MinTokenSecretLength)}
)

// Environment variables that override file settings.
const (
	EnvDBPath      = "PINGME_DB_PATH"
	EnvTokenSecret = "PINGME_TOKEN_SECRET"
	EnvMediaDir    = "PINGME_MEDIA_DIR"
	EnvPublicURL   = "PINGME_PUBLIC_URL"
	EnvLogLevel    = "PINGME_LOG_LEVEL"
	EnvPort        = "PORT"
	EnvEnvironment = "PINGME_ENV"
)

// LoadConfig reads a JSON or YAML (by extension) config file, fills in
// defaults and applies environment overrides.
func LoadConfig(path string) (*models.Config, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := decode(path, file, &config); err != nil {
		return nil, err
	}
	return finish(&config)
}

// LoadConfigOrDefault behaves like LoadConfig but falls back to defaults
// plus environment when the file does not exist.
func LoadConfigOrDefault(path string) (*models.Config, error) {
	cfg, err := LoadConfig(path)
	if errors.Is(err, fs.ErrNotExist) {
		return finish(&models.Config{})
	}
	return cfg, err
}

func decode(path string, data []byte, config *models.Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	}
	return nil
}

func finish(config *models.Config) (*models.Config, error) {
	applyEnvironmentOverrides(config)
	applyDefaults(config)
	if err := validate(config); err != nil {
		return nil, err
	}
	if err := validateSecurity(config); err != nil {
		return nil, err
	}
	return config, nil
}

func applyDefaults(c *models.Config) {
	s := &c.Server
	if s.Port <= 0 {
		s.Port = constants.DefaultServerPort
	}
	if s.ReadTimeoutSec <= 0 {
		s.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if s.WriteTimeoutSec <= 0 {
		s.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if s.IdleTimeoutSec <= 0 {
		s.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}
	if s.ShutdownTimeoutSec <= 0 {
		s.ShutdownTimeoutSec = constants.DefaultGracefulShutdownSec
	}
	if s.PublicURL == "" {
		s.PublicURL = fmt.Sprintf("http://localhost:%d", s.Port)
	}
	s.PublicURL = strings.TrimRight(s.PublicURL, "/")

	if c.Database.Path == "" {
		c.Database.Path = constants.DefaultDatabasePath
	}

	a := &c.Auth
	if a.TokenSalt == "" {
		a.TokenSalt = constants.DefaultTokenSalt
	}
	if a.TokenTTLHours <= 0 {
		a.TokenTTLHours = constants.DefaultTokenTTLHours
	}
	if a.KeyIterations <= 0 {
		a.KeyIterations = constants.DefaultKeyIterations
	}

	m := &c.Media
	if m.Dir == "" {
		m.Dir = constants.DefaultMediaDir
	}
	if m.Folder == "" {
		m.Folder = constants.DefaultMediaFolder
	}
	if m.MaxSizeMB <= 0 {
		m.MaxSizeMB = constants.DefaultMaxUploadMB
	}
	if len(m.AllowedExtensions) == 0 {
		m.AllowedExtensions = append([]string(nil), constants.DefaultAllowedExtensions...)
	}

	msg := &c.Messages
	if msg.DefaultPageSize <= 0 {
		msg.DefaultPageSize = constants.DefaultPageSize
	}
	if msg.MaxPageSize <= 0 {
		msg.MaxPageSize = constants.DefaultMaxPageSize
	}
	if msg.MaxContentLength <= 0 {
		msg.MaxContentLength = constants.DefaultMaxContentLength
	}

	r := &c.Realtime
	if r.PingIntervalSec <= 0 {
		r.PingIntervalSec = constants.DefaultPingIntervalSec
	}
	if r.PongTimeoutSec <= 0 {
		r.PongTimeoutSec = constants.DefaultPongTimeoutSec
	}
	if r.SendBufferSize <= 0 {
		r.SendBufferSize = constants.DefaultSendBufferSize
	}
	if r.EventsPerSecond <= 0 {
		r.EventsPerSecond = constants.DefaultEventsPerSecond
	}
	if r.EventBurst <= 0 {
		r.EventBurst = constants.DefaultEventBurst
	}
	if r.TypingTTLSec <= 0 {
		r.TypingTTLSec = constants.DefaultTypingTTLSec
	}
	if r.MaxMessageBytes <= 0 {
		r.MaxMessageBytes = constants.DefaultMaxWSMessageBytes
	}

	if c.RateLimit.RequestsPerSecond <= 0 {
		c.RateLimit.RequestsPerSecond = constants.DefaultRequestsPerSecond
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = constants.DefaultRequestBurst
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "pingme"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func validate(c *models.Config) error {
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	if c.Media.Dir == "" {
		return ErrMissingMediaDir
	}
	if err := validation.ValidateNumericRange(c.Server.Port, "server.port", 1, 65535); err != nil {
		return models.ConfigError{Message: err.Error()}
	}
	for _, t := range []struct {
		name string
		sec  int
	}{
		{"server.read_timeout_sec", c.Server.ReadTimeoutSec},
		{"server.write_timeout_sec", c.Server.WriteTimeoutSec},
		{"server.idle_timeout_sec", c.Server.IdleTimeoutSec},
		{"server.shutdown_timeout_sec", c.Server.ShutdownTimeoutSec},
		{"realtime.ping_interval_sec", c.Realtime.PingIntervalSec},
		{"realtime.pong_timeout_sec", c.Realtime.PongTimeoutSec},
	} {
		if err := validation.ValidateTimeout(t.sec, t.name); err != nil {
			return models.ConfigError{Message: err.Error()}
		}
	}
	if c.Messages.DefaultPageSize > c.Messages.MaxPageSize {
		return models.ConfigError{Message: "messages.default_page_size exceeds messages.max_page_size"}
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return models.ConfigError{Message: "tracing.sample_rate must be between 0 and 1"}
	}
	for _, ext := range c.Media.AllowedExtensions {
		if ext == "" || strings.ContainsAny(ext, `./\`) {
			return models.ConfigError{Message: fmt.Sprintf("invalid allowed extension %q", ext)}
		}
	}
	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if path := os.Getenv(EnvDBPath); path != "" {
		c.Database.Path = path
	}
	if secret := os.Getenv(EnvTokenSecret); secret != "" {
		c.Auth.TokenSecret = secret
	}
	if dir := os.Getenv(EnvMediaDir); dir != "" {
		c.Media.Dir = dir
	}
	if url := os.Getenv(EnvPublicURL); url != "" {
		c.Server.PublicURL = url
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.LogLevel = level
	}
	if port := os.Getenv(EnvPort); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
}

// IsProduction reports whether PINGME_ENV selects production mode.
func IsProduction() bool {
	return os.Getenv(EnvEnvironment) == "production"
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	if c.Auth.TokenSecret == "" {
		return ErrMissingTokenSecret
	}
	if len(c.Auth.TokenSecret) < constants.MinTokenSecretLength {
		return ErrWeakTokenSecret
	}

	if IsProduction() {
		if len(c.Auth.TokenSecret) < 32 {
			return models.ConfigError{Message: "token secret must be at least 32 characters long in production"}
		}
		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
		if len(c.Server.AllowedOrigins) == 0 {
			return models.ConfigError{Message: "server.allowed_origins is required in production"}
		}
	} else if len(c.Server.AllowedOrigins) == 0 {
		fmt.Fprintf(os.Stderr, "WARNING: server.allowed_origins is empty; cross-origin websocket handshakes are refused.\n")
	}

	return nil
}
