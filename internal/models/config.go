package models

// Config holds the application configuration
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Database  DatabaseConfig  `json:"database" yaml:"database"`
	Auth      AuthConfig      `json:"auth" yaml:"auth"`
	Media     MediaConfig     `json:"media" yaml:"media"`
	Messages  MessagesConfig  `json:"messages" yaml:"messages"`
	Realtime  RealtimeConfig  `json:"realtime" yaml:"realtime"`
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
	Retry     RetryConfig     `json:"retry" yaml:"retry"`
	Tracing   TracingConfig   `json:"tracing" yaml:"tracing"`
	LogLevel  string          `json:"log_level" yaml:"log_level"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Port               int      `json:"port" yaml:"port"`
	PublicURL          string   `json:"public_url" yaml:"public_url"`
	ReadTimeoutSec     int      `json:"read_timeout_sec" yaml:"read_timeout_sec"`
	WriteTimeoutSec    int      `json:"write_timeout_sec" yaml:"write_timeout_sec"`
	IdleTimeoutSec     int      `json:"idle_timeout_sec" yaml:"idle_timeout_sec"`
	ShutdownTimeoutSec int      `json:"shutdown_timeout_sec" yaml:"shutdown_timeout_sec"`
	AllowedOrigins     []string `json:"allowed_origins" yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Path string `json:"path" yaml:"path"`
}

// AuthConfig configures token verification. The signing key is derived
// from TokenSecret and TokenSalt.
type AuthConfig struct {
	TokenSecret   string `json:"token_secret" yaml:"token_secret"`
	TokenSalt     string `json:"token_salt" yaml:"token_salt"`
	TokenTTLHours int    `json:"token_ttl_hours" yaml:"token_ttl_hours"`
	KeyIterations int    `json:"key_iterations" yaml:"key_iterations"`
}

// MediaConfig holds upload storage settings
type MediaConfig struct {
	Dir               string   `json:"dir" yaml:"dir"`
	MaxSizeMB         int      `json:"max_size_mb" yaml:"max_size_mb"`
	AllowedExtensions []string `json:"allowed_extensions" yaml:"allowed_extensions"`
	Folder            string   `json:"folder" yaml:"folder"`
}

type MessagesConfig struct {
	DefaultPageSize  int `json:"default_page_size" yaml:"default_page_size"`
	MaxPageSize      int `json:"max_page_size" yaml:"max_page_size"`
	MaxContentLength int `json:"max_content_length" yaml:"max_content_length"`
}

// RealtimeConfig tunes websocket sessions
type RealtimeConfig struct {
	PingIntervalSec int     `json:"ping_interval_sec" yaml:"ping_interval_sec"`
	PongTimeoutSec  int     `json:"pong_timeout_sec" yaml:"pong_timeout_sec"`
	SendBufferSize  int     `json:"send_buffer_size" yaml:"send_buffer_size"`
	EventsPerSecond float64 `json:"events_per_second" yaml:"events_per_second"`
	EventBurst      int     `json:"event_burst" yaml:"event_burst"`
	TypingTTLSec    int     `json:"typing_ttl_sec" yaml:"typing_ttl_sec"`
	MaxMessageBytes int64   `json:"max_message_bytes" yaml:"max_message_bytes"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `json:"burst" yaml:"burst"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initial_backoff_ms" yaml:"initial_backoff_ms"`
	MaxBackoffMs     int `json:"max_backoff_ms" yaml:"max_backoff_ms"`
	MaxAttempts      int `json:"max_attempts" yaml:"max_attempts"`
}

type TracingConfig struct {
	Enabled        bool    `json:"enabled" yaml:"enabled"`
	ServiceName    string  `json:"service_name" yaml:"service_name"`
	ServiceVersion string  `json:"service_version" yaml:"service_version"`
	Environment    string  `json:"environment" yaml:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate" yaml:"sample_rate"`
	UseStdout      bool    `json:"use_stdout" yaml:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
