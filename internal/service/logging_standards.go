package service

// Standard field names for structured logging. Use these exact names so log
// queries work across the HTTP edge, the engine and the realtime router.
const (
	// Core identifiers
	LogFieldRequestID    = "request_id"
	LogFieldTraceID      = "trace_id"
	LogFieldSpanID       = "span_id"
	LogFieldUserID       = "user_id"
	LogFieldPeerUserID   = "peer_user_id"
	LogFieldMessageID    = "message_id"
	LogFieldConnectionID = "connection_id"

	// Service and operation fields
	LogFieldService   = "service"
	LogFieldOperation = "operation"
	LogFieldComponent = "component"
	LogFieldMethod    = "method"

	// Message and event fields
	LogFieldEvent       = "event"
	LogFieldMessageType = "message_type"
	LogFieldStatus      = "status"
	LogFieldReaction    = "reaction"

	// Performance and metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"
	LogFieldSize     = "size_bytes"

	// Network
	LogFieldURL        = "url"
	LogFieldRoute      = "route"
	LogFieldStatusCode = "status_code"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"

	// File and media
	LogFieldFileName  = "file_name"
	LogFieldMediaType = "media_type"
	LogFieldFileSize  = "file_size"

	// Error and debugging
	LogFieldErrorCode = "error_code"
	LogFieldAttempt   = "attempt"
)

// Log level usage:
//
// DEBUG: dropped realtime events, rejected client input, per-event routing.
// INFO:  startup and shutdown, connections opened and closed, messages created.
// WARN:  retryable failures, upload failures, presence persistence failures.
// ERROR: store failures and anything surfaced to a client as a 5xx.
//
// Message patterns: "Starting [operation]", "Failed to [operation]",
// "[Operation] completed". Message content and tokens are never logged
// unless verbose logging is enabled, and then only content.
