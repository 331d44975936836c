package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateFilePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"empty", "", true},
		{"relative", "data/pingme.db", false},
		{"absolute", "/var/lib/pingme/pingme.db", false},
		{"traversal", "../etc/passwd", true},
		{"nested traversal", "data/../../etc", true},
		{"dots in name", "data/pingme..db", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilePath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateFilePathWithBase(t *testing.T) {
	assert.NoError(t, ValidateFilePathWithBase("pingme/a.png", "/srv/uploads"))
	assert.Error(t, ValidateFilePathWithBase("/etc/passwd", "/srv/uploads"))
	assert.Error(t, ValidateFilePathWithBase("../a.png", "/srv/uploads"))
}

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"photo.png", "photo.png"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\me\report.pdf`, "report.pdf"},
		{"we?ird*.txt", "we_ird_.txt"},
		{"..", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeFileName(tt.input))
		})
	}
}
