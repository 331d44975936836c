package main

import (
	"encoding/json"
	"net/http"

	"pingme/internal/metrics"
	"pingme/internal/service"
	"pingme/internal/tracing"

	"github.com/sirupsen/logrus"
)

// handleMetrics returns current application metrics as JSON
func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestInfo := tracing.GetRequestInfo(r.Context())
		fields := logrus.Fields{
			service.LogFieldRequestID: requestInfo.RequestID,
			service.LogFieldTraceID:   requestInfo.TraceID,
			"endpoint":                "/metrics.json",
		}
		s.logger.WithFields(fields).Debug("Serving metrics endpoint")

		snapshot := metrics.GetAllMetrics()
		snapshot["online_users"] = len(s.deps.Hub.OnlineUsers())
		if s.deps.Media != nil {
			snapshot["media_circuit"] = s.deps.Media.Stats().State.String()
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(snapshot); err != nil {
			s.logger.WithFields(fields).WithError(err).Error("Failed to encode metrics response")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
	}
}
