package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"pingme/internal/httputil"
	"pingme/internal/metrics"
	"pingme/internal/service"
	"pingme/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// ObservabilityMiddleware adds a request id, a span, request metrics and a
// completion log line to every HTTP request.
func ObservabilityMiddleware(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := routeTemplate(r)

			ctx, span := tracing.WithOtelTracing(r.Context(), "HTTP "+r.Method+" "+route)
			defer span.End()

			ctx = tracing.WithRequestID(ctx, tracing.GenerateRequestID())
			if tracing.GetTraceID(ctx) == "" {
				ctx = tracing.WithTraceID(ctx, tracing.GenerateTraceID())
			}
			if tracing.GetSpanID(ctx) == "" {
				ctx = tracing.WithSpanID(ctx, tracing.GenerateSpanID())
			}
			ctx = tracing.WithStartTime(ctx, time.Now())
			r = r.WithContext(ctx)

			clientIP := httputil.GetClientIP(r)
			tracing.AddSpanAttributes(ctx,
				attribute.String("http.request.method", r.Method),
				attribute.String("http.route", route),
				attribute.String("url.path", r.URL.Path),
				attribute.String("user_agent.original", r.UserAgent()),
				attribute.String("client.address", clientIP),
			)

			requestInfo := tracing.GetRequestInfo(ctx)
			w.Header().Set("X-Request-ID", requestInfo.RequestID)

			wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}

			metrics.AddToGauge("http_requests_active", 1, nil, "Currently active HTTP requests")
			defer metrics.AddToGauge("http_requests_active", -1, nil, "Currently active HTTP requests")

			next.ServeHTTP(wrapper, r)

			duration := tracing.Duration(ctx)
			status := strconv.Itoa(wrapper.statusCode)

			tracing.AddSpanAttributes(ctx,
				attribute.Int("http.response.status_code", wrapper.statusCode),
				attribute.Int64("http.response.body.size", wrapper.responseSize),
			)
			if wrapper.statusCode >= 500 {
				tracing.RecordError(ctx, fmt.Errorf("HTTP %d", wrapper.statusCode))
			}

			labels := map[string]string{
				"method":      r.Method,
				"route":       route,
				"status_code": status,
			}
			metrics.IncrementCounter("http_requests_total", labels, "HTTP requests by route and status")
			metrics.RecordTimer("http_request_duration", duration, labels, "HTTP request duration")

			logLevel := logrus.InfoLevel
			if wrapper.statusCode >= 400 && wrapper.statusCode < 500 {
				logLevel = logrus.WarnLevel
			} else if wrapper.statusCode >= 500 {
				logLevel = logrus.ErrorLevel
			}

			logger.WithFields(logrus.Fields{
				service.LogFieldRequestID:  requestInfo.RequestID,
				service.LogFieldTraceID:    requestInfo.TraceID,
				service.LogFieldMethod:     r.Method,
				service.LogFieldRoute:      route,
				service.LogFieldStatusCode: wrapper.statusCode,
				service.LogFieldDuration:   duration.Milliseconds(),
				service.LogFieldRemoteIP:   clientIP,
				service.LogFieldSize:       wrapper.responseSize,
			}).Log(logLevel, "HTTP request completed")
		})
	}
}

// routeTemplate returns the matched mux path template so metrics are
// labelled per route rather than per concrete id.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// responseWrapper captures response metrics
type responseWrapper struct {
	http.ResponseWriter
	statusCode   int
	responseSize int64
	wroteHeader  bool
}

func (rw *responseWrapper) WriteHeader(statusCode int) {
	if !rw.wroteHeader {
		rw.statusCode = statusCode
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWrapper) Write(data []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(data)
	rw.responseSize += int64(n)
	return n, err
}

// Hijack lets websocket upgrades through the wrapper. The handshake is
// logged as 101.
func (rw *responseWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	rw.wroteHeader = true
	return hj.Hijack()
}

func (rw *responseWrapper) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWrapper) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
