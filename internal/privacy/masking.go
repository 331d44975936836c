package privacy

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// MaskUserID masks a user identifier
// Example: "user123456" -> "******3456"
func MaskUserID(userID string) string {
	return maskString(userID, 4)
}

// MaskMessageID masks a message ID while keeping enough of it to correlate
// log lines. UUIDs keep their first group.
// Example: "3f1c9a2e-4b7d-..." -> "3f1c9a2e-****"
func MaskMessageID(messageID string) string {
	if messageID == "" {
		return ""
	}
	if i := strings.IndexByte(messageID, '-'); i > 0 {
		return messageID[:i] + "-****"
	}
	return maskString(messageID, 8)
}

// MaskToken never reveals more than the last 4 characters of a credential.
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 12 {
		return strings.Repeat("*", 8)
	}
	return strings.Repeat("*", 8) + token[len(token)-4:]
}

// MaskContent replaces message content with its length so logs never carry
// what users wrote.
// Example: "hello there" -> "[11 chars]"
func MaskContent(content string) string {
	if content == "" {
		return ""
	}
	return "[" + strconv.Itoa(utf8.RuneCountInString(content)) + " chars]"
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}
	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		s, isString := v.(string)
		if !isString {
			masked[k] = v
			continue
		}
		switch k {
		case "user_id", "userId", "sender_id", "receiver_id", "peer_id":
			masked[k] = MaskUserID(s)
		case "message_id", "messageId", "reply_to":
			masked[k] = MaskMessageID(s)
		case "token", "authorization":
			masked[k] = MaskToken(s)
		case "content", "text":
			masked[k] = MaskContent(s)
		default:
			masked[k] = v
		}
	}
	return masked
}
