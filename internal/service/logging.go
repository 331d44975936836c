package service

import (
	"context"

	"pingme/internal/models"
	"pingme/internal/privacy"
	"pingme/internal/tracing"

	"github.com/sirupsen/logrus"
)

// ContextKey is a package-local type to prevent context key collisions
// See staticcheck SA1029 guidance
type ContextKey string

// VerboseContextKey is the strongly-typed context key for verbose logging flag
const VerboseContextKey ContextKey = "verbose"

// WithVerbose marks ctx so that log helpers include unmasked identifiers.
func WithVerbose(ctx context.Context, verbose bool) context.Context {
	return context.WithValue(ctx, VerboseContextKey, verbose)
}

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// LogWithContext returns an entry carrying the request and trace ids found
// in ctx.
func LogWithContext(ctx context.Context, logger *logrus.Logger) *logrus.Entry {
	fields := logrus.Fields{}
	if id := tracing.GetRequestID(ctx); id != "" {
		fields[LogFieldRequestID] = id
	}
	if id := tracing.GetTraceID(ctx); id != "" {
		fields[LogFieldTraceID] = id
	}
	if id := tracing.GetSpanID(ctx); id != "" {
		fields[LogFieldSpanID] = id
	}
	return logger.WithFields(fields)
}

// UserField masks a user id unless verbose logging is on.
func UserField(ctx context.Context, userID string) string {
	if IsVerboseLogging(ctx) {
		return userID
	}
	return privacy.MaskUserID(userID)
}

// MessageField masks a message id unless verbose logging is on.
func MessageField(ctx context.Context, messageID string) string {
	if IsVerboseLogging(ctx) {
		return messageID
	}
	return privacy.MaskMessageID(messageID)
}

// messageFields describes m for logging. Content is included only in
// verbose mode.
func messageFields(ctx context.Context, m *models.Message) logrus.Fields {
	fields := logrus.Fields{
		LogFieldMessageID:   MessageField(ctx, m.ID),
		LogFieldUserID:      UserField(ctx, m.SenderID),
		LogFieldPeerUserID:  UserField(ctx, m.ReceiverID),
		LogFieldMessageType: string(m.Type),
		LogFieldStatus:      string(m.Status),
	}
	if IsVerboseLogging(ctx) {
		fields["content"] = m.Content
	} else {
		fields["content"] = privacy.MaskContent(m.Content)
	}
	return fields
}
