package versioning

import (
	"context"
	"net/http"
	"strings"

	apperrors "pingme/internal/errors"
	"pingme/internal/httputil"

	"github.com/sirupsen/logrus"
)

type contextKey string

const VersionContextKey contextKey = "api_version"

const (
	// AcceptVersionHeader lets a client request a protocol version.
	AcceptVersionHeader = "Accept-Version"
	// APIVersionHeader is accepted as an alternative to Accept-Version.
	APIVersionHeader = "X-API-Version"

	CurrentVersionHeader    = "X-Current-Version"
	SupportedVersionsHeader = "X-Supported-Versions"
)

// VersionMiddleware resolves the protocol version a request asks for and
// refuses versions this build cannot serve.
type VersionMiddleware struct {
	logger *logrus.Logger
}

func NewVersionMiddleware(logger *logrus.Logger) *VersionMiddleware {
	return &VersionMiddleware{logger: logger}
}

// VersionHandler is the middleware function
func (vm *VersionMiddleware) VersionHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested := vm.extractVersionFromRequest(r)

		w.Header().Set(CurrentVersionHeader, CurrentVersion.String())
		w.Header().Set(SupportedVersionsHeader, GetVersionRange())

		if !IsVersionSupported(requested) {
			vm.logger.WithFields(logrus.Fields{
				"requested_version": requested.String(),
				"current_version":   CurrentVersion.String(),
			}).Warn("Unsupported API version requested")

			httputil.WriteError(w, r, apperrors.NewValidationError("version",
				"API version "+requested.String()+" is not supported, use "+GetVersionRange()))
			return
		}

		ctx := context.WithValue(r.Context(), VersionContextKey, requested)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (vm *VersionMiddleware) extractVersionFromRequest(r *http.Request) APIVersion {
	for _, header := range []string{AcceptVersionHeader, APIVersionHeader} {
		versionStr := r.Header.Get(header)
		if versionStr == "" {
			continue
		}
		if version, err := ParseVersion(normalize(versionStr)); err == nil {
			return version
		}
		vm.logger.WithField("header", header).Debug("Ignoring malformed version header")
	}
	return CurrentVersion
}

// normalize expands "1" and "1.1" to full semantic versions.
func normalize(v string) string {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	switch strings.Count(v, ".") {
	case 0:
		return v + ".0.0"
	case 1:
		return v + ".0"
	}
	return v
}

// GetVersionFromContext extracts the API version from request context
func GetVersionFromContext(ctx context.Context) (APIVersion, bool) {
	version, ok := ctx.Value(VersionContextKey).(APIVersion)
	return version, ok
}

// Supports reports whether the request's protocol version includes the
// named feature. Requests without a version get the current feature set.
func Supports(ctx context.Context, featureName string) bool {
	version, ok := GetVersionFromContext(ctx)
	if !ok {
		version = CurrentVersion
	}
	for _, f := range SupportedFeatures(version) {
		if f.Name == featureName {
			return true
		}
	}
	return false
}
