package tracing

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

type infoKey struct{}

// RequestInfo carries the correlation ids attached to an HTTP request or a
// realtime session. Values are copied on every update, so a context never
// observes changes made further down the chain.
type RequestInfo struct {
	RequestID string    `json:"request_id"`
	TraceID   string    `json:"trace_id"`
	SpanID    string    `json:"span_id"`
	StartTime time.Time `json:"start_time"`
}

func infoFrom(ctx context.Context) RequestInfo {
	if info, ok := ctx.Value(infoKey{}).(RequestInfo); ok {
		return info
	}
	return RequestInfo{}
}

func update(ctx context.Context, apply func(*RequestInfo)) context.Context {
	info := infoFrom(ctx)
	apply(&info)
	return context.WithValue(ctx, infoKey{}, info)
}

// GenerateRequestID returns "req_" followed by 16 hex characters.
func GenerateRequestID() string {
	return "req_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// GenerateTraceID returns 32 hex characters, the W3C trace id width.
func GenerateTraceID() string {
	return randomHex(16)
}

// GenerateSpanID returns 16 hex characters.
func GenerateSpanID() string {
	return randomHex(8)
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		id := uuid.New()
		copy(b, id[:])
	}
	return hex.EncodeToString(b)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return update(ctx, func(i *RequestInfo) { i.RequestID = requestID })
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return update(ctx, func(i *RequestInfo) { i.TraceID = traceID })
}

func WithSpanID(ctx context.Context, spanID string) context.Context {
	return update(ctx, func(i *RequestInfo) { i.SpanID = spanID })
}

func WithStartTime(ctx context.Context, startTime time.Time) context.Context {
	return update(ctx, func(i *RequestInfo) { i.StartTime = startTime })
}

func GetRequestID(ctx context.Context) string { return infoFrom(ctx).RequestID }

func GetTraceID(ctx context.Context) string { return infoFrom(ctx).TraceID }

func GetSpanID(ctx context.Context) string { return infoFrom(ctx).SpanID }

func GetStartTime(ctx context.Context) time.Time { return infoFrom(ctx).StartTime }

// GetRequestInfo returns a copy of every correlation id in ctx.
func GetRequestInfo(ctx context.Context) *RequestInfo {
	info := infoFrom(ctx)
	return &info
}

// Duration is the time elapsed since the start time in ctx, or zero when
// none was recorded.
func Duration(ctx context.Context) time.Duration {
	start := GetStartTime(ctx)
	if start.IsZero() {
		return 0
	}
	return time.Since(start)
}
