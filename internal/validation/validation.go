package validation

import (
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"pingme/internal/constants"
	"pingme/internal/errors"
	"pingme/internal/models"
)

// ValidateUserID validates the format and length of a user identifier
func ValidateUserID(userID string) error {
	if userID == "" {
		return errors.NewValidationError("user", "user ID cannot be empty")
	}
	if len(userID) > constants.MaxUserIDLength {
		return errors.NewValidationError("user",
			fmt.Sprintf("user ID too long (max %d characters)", constants.MaxUserIDLength))
	}
	return checkIdentifierChars("user", userID)
}

// ValidateMessageID validates message ID format and length
func ValidateMessageID(messageID string) error {
	if messageID == "" {
		return errors.NewValidationError("message", "message ID cannot be empty")
	}
	if len(messageID) > constants.MaxMessageIDLength {
		return errors.NewValidationError("message",
			fmt.Sprintf("message ID too long (max %d characters)", constants.MaxMessageIDLength))
	}
	return checkIdentifierChars("message", messageID)
}

func checkIdentifierChars(field, id string) error {
	for _, char := range id {
		if !unicode.IsLetter(char) && !unicode.IsDigit(char) && char != '_' && char != '-' {
			return errors.NewValidationError(field,
				fmt.Sprintf("%s ID must contain only letters, numbers, underscores, and dashes", field))
		}
	}
	return nil
}

// ValidateMessageType rejects message types outside the known set
func ValidateMessageType(t models.MessageType) error {
	if !t.Valid() {
		return errors.NewValidationError("messageType", fmt.Sprintf("unsupported message type: %q", string(t)))
	}
	return nil
}

// ValidateContent requires non-blank content no longer than maxLength runes.
func ValidateContent(content string, maxLength int) error {
	if strings.TrimSpace(content) == "" {
		return errors.NewValidationError("content", "message content is required")
	}
	if maxLength > 0 && len([]rune(content)) > maxLength {
		return errors.NewValidationError("content",
			fmt.Sprintf("message content too long (max %d characters)", maxLength))
	}
	return nil
}

// ValidateReaction rejects symbols outside the reaction palette
func ValidateReaction(symbol string) error {
	if !models.IsValidReaction(symbol) {
		return errors.NewValidationError("reaction", "unsupported reaction")
	}
	return nil
}

// NormalizePage applies defaults and bounds to pagination parameters.
// Zero or negative values fall back to the first page and the default size.
func NormalizePage(page, limit, defaultLimit, maxLimit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if maxLimit > 0 && limit > maxLimit {
		limit = maxLimit
	}
	return page, limit
}

// ValidateUploadSize validates an upload against the configured limit
func ValidateUploadSize(sizeBytes int64, maxSizeMB int) error {
	if sizeBytes < 0 {
		return errors.NewValidationError("file", "file size cannot be negative")
	}
	if sizeBytes == 0 {
		return errors.NewValidationError("file", "file is empty")
	}

	maxSizeBytes := int64(maxSizeMB) * constants.BytesPerMegabyte
	if sizeBytes > maxSizeBytes {
		return errors.NewValidationError("file",
			fmt.Sprintf("file too large: %d bytes (max %d MB)", sizeBytes, maxSizeMB))
	}
	return nil
}

// ValidateHTTPRequestSize validates incoming HTTP request size
func ValidateHTTPRequestSize(r *http.Request, maxSizeBytes int64) error {
	if r.ContentLength > maxSizeBytes {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("request too large: %d bytes (max %d bytes)", r.ContentLength, maxSizeBytes))
	}
	return nil
}

// ValidateNumericRange validates numeric values against bounds
func ValidateNumericRange(value int, fieldName string, min, max int) error {
	if value < min {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too small (min %d)", fieldName, min))
	}
	if value > max {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max %d)", fieldName, max))
	}
	return nil
}

// ValidateTimeout validates timeout values
func ValidateTimeout(timeoutSec int, fieldName string) error {
	if timeoutSec < 1 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s must be at least 1 second", fieldName))
	}
	if timeoutSec > 3600 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max 3600 seconds)", fieldName))
	}
	return nil
}
