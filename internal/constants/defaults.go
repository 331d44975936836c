package constants

// Default server configuration values
const (
	DefaultServerPort            = 5000
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 30
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
	DefaultDatabasePath          = "pingme.db"
)

// Default retry configuration values
const (
	DefaultRetryBackoffMs   = 500
	DefaultMaxBackoffMs     = 5000
	DefaultMaxAttempts      = 5
	DefaultDatabaseRetries  = 3
	DefaultBackoffInitialMs = 100
)

// Default messaging values
const (
	DefaultPageSize         = 50
	DefaultMaxPageSize      = 200
	DefaultMaxContentLength = 10000
	MaxMessageIDLength      = 64
	MaxUserIDLength         = 64
)

// Default realtime session values
const (
	DefaultPingIntervalSec   = 30
	DefaultPongTimeoutSec    = 10
	DefaultSendBufferSize    = 64
	DefaultEventsPerSecond   = 20
	DefaultEventBurst        = 40
	DefaultTypingTTLSec      = 5
	DefaultMaxWSMessageBytes = 64 * 1024
	DefaultTypingStopIdleMs  = 1000
	DefaultTypingExpiryMs    = 1500
)

// Default REST rate limit values
const (
	DefaultRequestsPerSecond = 10
	DefaultRequestBurst      = 20
)

// Default auth values
const (
	DefaultTokenTTLHours = 24 * 7
	DefaultKeyIterations = 100000
	DefaultTokenSalt     = "pingme-token-key"
	MinTokenSecretLength = 16
	TokenCookieName      = "token"
	TokenQueryParam      = "token"
)

// Default media configuration values
const (
	DefaultMediaDir             = "uploads"
	DefaultMediaFolder          = "pingme"
	DefaultMaxUploadMB          = 20
	BytesPerMegabyte            = 1024 * 1024
	DefaultFilePermissions      = 0600
	DefaultDirectoryPermissions = 0750

	// The disk breaker opens after consecutive write failures and lets a
	// few trial writes through once the cool-down has passed.
	MediaBreakerMaxFailures   = 5
	MediaBreakerCooldownSec   = 30
	MediaBreakerHalfOpenCalls = 2
)

// Privacy settings
const (
	DefaultUserIDMaskLength = 4
	DefaultMessageIDLength  = 8
)
