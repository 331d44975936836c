package errors

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNewLogger(t *testing.T) {
	logger := NewLogger()

	_, ok := logger.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok, "Logger should use JSON formatter")
}

func TestLogger_LogError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger()
	logger.SetOutput(&buf)

	err := NewForbiddenError("edit this message").WithContext("message_id", "m1")
	logger.LogError(err, "edit rejected", logrus.Fields{"user_id": "u1"})

	out := buf.String()
	assert.Contains(t, out, `"level":"error"`)
	assert.Contains(t, out, `"error_code":"FORBIDDEN"`)
	assert.Contains(t, out, `"message_id":"m1"`)
	assert.Contains(t, out, `"user_id":"u1"`)
	assert.Contains(t, out, `"msg":"edit rejected"`)
}

func TestLogger_LogByCode(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		level string
	}{
		{"client error at debug", NewNotFoundError("Message", "m1"), `"level":"debug"`},
		{"upload at warn", NewUploadError("f", errors.New("io")), `"level":"warning"`},
		{"internal at error", errors.New("boom"), `"level":"error"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger()
			logger.SetOutput(&buf)
			logger.SetLevel(logrus.DebugLevel)

			logger.LogByCode(tt.err, "failed")

			assert.Contains(t, buf.String(), tt.level)
		})
	}
}
