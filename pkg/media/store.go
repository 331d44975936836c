// Package media keeps uploaded message attachments on local disk and
// serves them back over HTTP.
package media

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"pingme/internal/constants"
	apperrors "pingme/internal/errors"
	"pingme/internal/metrics"
	"pingme/internal/models"
	"pingme/internal/security"
	"pingme/internal/validation"
	"pingme/pkg/circuitbreaker"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RoutePrefix is the URL path under which stored files are served.
const RoutePrefix = "/media/"

// Store writes uploads under Dir/Folder with generated names. Disk writes
// go through a circuit breaker so a failing volume rejects uploads quickly.
type Store struct {
	root      string
	folder    string
	baseURL   string
	maxSizeMB int
	allowed   map[string]struct{}
	breaker   *circuitbreaker.CircuitBreaker
	logger    *logrus.Logger
	newName   func() string
}

func NewStore(cfg models.MediaConfig, publicURL string, logger *logrus.Logger) (*Store, error) {
	root := cfg.Dir
	if root == "" {
		root = constants.DefaultMediaDir
	}
	folder := security.SanitizeFileName(cfg.Folder)
	if folder == "" {
		folder = constants.DefaultMediaFolder
	}
	if err := security.ValidateFilePath(root); err != nil {
		return nil, fmt.Errorf("invalid media directory: %w", err)
	}
	if err := security.ValidateFilePathWithBase(folder, root); err != nil {
		return nil, fmt.Errorf("invalid media folder: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(root, folder), constants.DefaultDirectoryPermissions); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}

	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = constants.DefaultMaxUploadMB
	}
	exts := cfg.AllowedExtensions
	if len(exts) == 0 {
		exts = constants.DefaultAllowedExtensions
	}
	allowed := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		allowed[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}

	return &Store{
		root:      root,
		folder:    folder,
		baseURL:   strings.TrimRight(publicURL, "/"),
		maxSizeMB: maxSize,
		allowed:   allowed,
		breaker: circuitbreaker.New("media-store",
			constants.MediaBreakerMaxFailures,
			time.Duration(constants.MediaBreakerCooldownSec)*time.Second,
			circuitbreaker.WithLogger(logger),
			circuitbreaker.WithHalfOpenCalls(constants.MediaBreakerHalfOpenCalls),
			circuitbreaker.WithStateChangeHook(recordBreakerState),
		),
		logger:    logger,
		newName:   uuid.NewString,
	}, nil
}

// Store validates and persists upload. Validation failures are InvalidInput
// errors; storage failures are UploadFailed errors.
func (s *Store) Store(ctx context.Context, upload *models.Upload) (*models.StoredFile, error) {
	if upload == nil || upload.Reader == nil {
		return nil, apperrors.NewValidationError("file", "no file provided")
	}
	name := security.SanitizeFileName(upload.FileName)
	if name == "" {
		return nil, apperrors.NewValidationError("file", "file name is required")
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if _, ok := s.allowed[ext]; !ok {
		return nil, apperrors.NewValidationError("file", fmt.Sprintf("file type .%s is not allowed", ext))
	}
	if upload.Size != 0 {
		if err := validation.ValidateUploadSize(upload.Size, s.maxSizeMB); err != nil {
			return nil, err
		}
	}

	stored := s.newName() + "." + ext
	rel := filepath.Join(s.folder, stored)
	if err := security.ValidateFilePathWithBase(rel, s.root); err != nil {
		return nil, apperrors.NewUploadError(name, err)
	}
	dst := filepath.Join(s.root, rel)
	limit := int64(s.maxSizeMB) * constants.BytesPerMegabyte

	var written int64
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		n, err := writeFile(ctx, dst, upload.Reader, limit)
		written = n
		return err
	})
	if err != nil {
		metrics.IncrementCounter("media_uploads_total", map[string]string{"result": "failed"}, "Media uploads by outcome")
		if circuitbreaker.IsCircuitBreakerError(err) {
			return nil, apperrors.WrapRetryable(err, apperrors.ErrCodeUploadFailed, "media storage is unavailable").
				WithContext("file_name", name).
				WithUserMessage("File storage is temporarily unavailable, please try again")
		}
		return nil, apperrors.NewUploadError(name, err)
	}
	if sizeErr := validation.ValidateUploadSize(written, s.maxSizeMB); sizeErr != nil {
		_ = os.Remove(dst)
		metrics.IncrementCounter("media_uploads_total", map[string]string{"result": "rejected"}, "Media uploads by outcome")
		return nil, sizeErr
	}

	metrics.IncrementCounter("media_uploads_total", map[string]string{"result": "stored"}, "Media uploads by outcome")
	metrics.AddToCounter("media_upload_bytes_total", float64(written), nil, "Bytes of stored uploads")
	s.logger.WithFields(logrus.Fields{
		"file_name": name,
		"file_size": written,
	}).Debug("Stored upload")

	return &models.StoredFile{
		URL:      s.baseURL + RoutePrefix + path.Join(s.folder, stored),
		FileName: name,
		Size:     written,
		MimeType: mimeFor(upload.ContentType, ext),
	}, nil
}

// writeFile copies at most limit+1 bytes from r into a temporary file next
// to dst and renames it into place. A result above limit leaves the file in
// place for the caller to reject.
func writeFile(ctx context.Context, dst string, r io.Reader, limit int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(r, limit+1))
	if err != nil {
		tmp.Close()
		return n, fmt.Errorf("failed to write upload: %w", err)
	}
	if err := tmp.Chmod(constants.DefaultFilePermissions); err != nil {
		tmp.Close()
		return n, fmt.Errorf("failed to set upload permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return n, fmt.Errorf("failed to close upload: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return n, fmt.Errorf("failed to move upload into place: %w", err)
	}
	return n, nil
}

func mimeFor(declared, ext string) string {
	if declared != "" && declared != constants.DefaultMimeType {
		if mt, _, err := mime.ParseMediaType(declared); err == nil {
			return mt
		}
	}
	if mt, ok := constants.MimeTypes["."+ext]; ok {
		return mt
	}
	return constants.DefaultMimeType
}

// Handler serves stored files. Directory listings and in-flight temporary
// files are refused.
func (s *Store) Handler() http.Handler {
	files := http.StripPrefix(RoutePrefix, http.FileServer(http.Dir(s.root)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") || strings.HasPrefix(path.Base(r.URL.Path), ".") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("X-Content-Type-Options", "nosniff")
		files.ServeHTTP(w, r)
	})
}

// recordBreakerState exports the breaker state as a gauge: 0 closed,
// 1 open, 2 half-open.
func recordBreakerState(name string, _, to circuitbreaker.State) {
	metrics.SetGauge("circuit_breaker_state", float64(to), map[string]string{"breaker": name},
		"Circuit breaker state (0 closed, 1 open, 2 half-open)")
}

// Stats reports the state of the disk circuit breaker.
func (s *Store) Stats() circuitbreaker.Stats {
	return s.breaker.GetStats()
}
