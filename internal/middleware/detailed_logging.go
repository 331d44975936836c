package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"

	"pingme/internal/auth"
	"pingme/internal/httputil"
	"pingme/internal/privacy"
	"pingme/internal/service"
	"pingme/internal/tracing"

	"github.com/sirupsen/logrus"
)

const maskedValue = "***MASKED***"

// DetailedLoggingConfig controls what the debug request log includes.
type DetailedLoggingConfig struct {
	LogRequestHeaders  bool     `json:"log_request_headers"`
	LogResponseHeaders bool     `json:"log_response_headers"`
	LogRequestBody     bool     `json:"log_request_body"`
	MaxBodySize        int      `json:"max_body_size"`
	SensitiveHeaders   []string `json:"sensitive_headers"`
	SkipPrefixes       []string `json:"skip_prefixes"`
}

func DefaultDetailedLoggingConfig() DetailedLoggingConfig {
	return DetailedLoggingConfig{
		LogRequestHeaders: true,
		MaxBodySize:       1024,
		SensitiveHeaders: []string{
			"authorization", "cookie", "set-cookie",
			"sec-websocket-key", "sec-websocket-protocol",
		},
		SkipPrefixes: []string{"/metrics", "/health", "/ws", "/media/"},
	}
}

// DetailedLoggingMiddleware writes one debug entry per request and, when
// response headers are enabled, one per response. Credentials are masked
// and message content in JSON bodies is reduced to its length.
func DetailedLoggingMiddleware(logger *logrus.Logger, config DetailedLoggingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipDetailedLogging(r.URL.Path, config.SkipPrefixes) || !logger.IsLevelEnabled(logrus.DebugLevel) {
				next.ServeHTTP(w, r)
				return
			}

			info := tracing.GetRequestInfo(r.Context())
			fields := logrus.Fields{
				service.LogFieldRequestID: info.RequestID,
				service.LogFieldTraceID:   info.TraceID,
				service.LogFieldMethod:    r.Method,
				service.LogFieldURL:       redactQuery(r),
				service.LogFieldRemoteIP:  httputil.GetClientIP(r),
				"content_length":          r.ContentLength,
			}
			if userID := auth.UserIDFromContext(r.Context()); userID != "" {
				fields[service.LogFieldUserID] = service.UserField(r.Context(), userID)
			}
			if config.LogRequestHeaders {
				fields["request_headers"] = maskHeaders(r.Header, config.SensitiveHeaders)
			}
			if config.LogRequestBody {
				if body, ok := readLoggableBody(r, config.MaxBodySize); ok {
					fields["request_body"] = body
				}
			}
			logger.WithFields(fields).Debug("Detailed request logging")

			if !config.LogResponseHeaders {
				next.ServeHTTP(w, r)
				return
			}

			capture := &responseCaptureWrapper{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(capture, r)
			logger.WithFields(logrus.Fields{
				service.LogFieldRequestID:  info.RequestID,
				service.LogFieldTraceID:    info.TraceID,
				service.LogFieldStatusCode: capture.statusCode,
				service.LogFieldSize:       capture.size,
				"response_headers":         maskHeaders(capture.Header(), config.SensitiveHeaders),
			}).Debug("Detailed response logging")
		})
	}
}

func skipDetailedLogging(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func maskHeaders(h http.Header, sensitive []string) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if isSensitiveHeader(name, sensitive) {
			out[name] = maskedValue
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

// readLoggableBody returns a printable form of a small JSON request body
// and restores the body for the handler. Uploads are never read.
func readLoggableBody(r *http.Request, maxSize int) (interface{}, bool) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/json" || r.ContentLength <= 0 || r.ContentLength > int64(maxSize) {
		return nil, false
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, false
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	var fields map[string]interface{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return privacy.MaskContent(string(body)), true
	}
	return privacy.MaskSensitiveFields(fields), true
}

// responseCaptureWrapper records the status and size of a response.
type responseCaptureWrapper struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (rc *responseCaptureWrapper) Write(data []byte) (int, error) {
	n, err := rc.ResponseWriter.Write(data)
	rc.size += n
	return n, err
}

func (rc *responseCaptureWrapper) WriteHeader(statusCode int) {
	rc.statusCode = statusCode
	rc.ResponseWriter.WriteHeader(statusCode)
}

func (rc *responseCaptureWrapper) Unwrap() http.ResponseWriter {
	return rc.ResponseWriter
}

func isSensitiveHeader(headerName string, sensitiveHeaders []string) bool {
	for _, s := range sensitiveHeaders {
		if strings.EqualFold(s, headerName) {
			return true
		}
	}
	return false
}

// redactQuery masks the token query parameter used by realtime clients.
func redactQuery(r *http.Request) string {
	u := *r.URL
	q := u.Query()
	if q.Has("token") {
		q.Set("token", maskedValue)
		u.RawQuery = q.Encode()
	}
	return u.String()
}
