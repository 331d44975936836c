package errors

import (
	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger with structured error logging
type Logger struct {
	*logrus.Logger
}

// NewLogger creates a new structured logger
func NewLogger() *Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	return &Logger{Logger: logger}
}

// WrapLogger reuses an existing logrus logger.
func WrapLogger(l *logrus.Logger) *Logger {
	return &Logger{Logger: l}
}

func (l *Logger) entryFor(err error, fields []logrus.Fields) *logrus.Entry {
	entry := l.Logger.WithError(err)

	if appErr, ok := As(err); ok {
		entry = entry.WithFields(logrus.Fields{
			"error_code": appErr.Code,
			"retryable":  appErr.Retryable,
		})
		for k, v := range appErr.Context {
			entry = entry.WithField(k, v)
		}
	}

	for _, field := range fields {
		entry = entry.WithFields(field)
	}
	return entry
}

// LogError logs an error with structured context
func (l *Logger) LogError(err error, message string, fields ...logrus.Fields) {
	l.entryFor(err, fields).Error(message)
}

func (l *Logger) LogWarn(err error, message string, fields ...logrus.Fields) {
	l.entryFor(err, fields).Warn(message)
}

// LogByCode logs client-caused failures (validation, authorization, missing
// records) at debug level and everything else at error level.
func (l *Logger) LogByCode(err error, message string, fields ...logrus.Fields) {
	switch GetCode(err) {
	case ErrCodeInvalidInput, ErrCodeNotFound, ErrCodeForbidden, ErrCodeUnauthenticated, ErrCodeRateLimit:
		l.entryFor(err, fields).Debug(message)
	case ErrCodeUploadFailed:
		l.LogWarn(err, message, fields...)
	default:
		l.LogError(err, message, fields...)
	}
}

// WithError adds an error to subsequent log entries
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.entryFor(err, nil)
}
