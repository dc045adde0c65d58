package audit

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

var (
	// 64 lowercase hex characters: the shape of a download token secret.
	secretValuePattern = regexp.MustCompile(`\b[0-9a-f]{64}\b`)
	credentialPattern  = regexp.MustCompile(`(?i)(password|passwd|secret|bearer|api[_-]?key)[\s:=]+[^\s]+`)
)

// Keys whose values are always redacted. Identifiers such as token_id are
// allowed through.
var sensitiveKeys = map[string]bool{
	"token":        true,
	"secret":       true,
	"bearer":       true,
	"password":     true,
	"passwd":       true,
	"api_key":      true,
	"apikey":       true,
	"private_key":  true,
	"access_token": true,
}

// SanitizeMap returns a copy of data with sensitive keys and secret-shaped
// string values redacted. Nested maps are sanitized too.
func SanitizeMap(data map[string]any) map[string]any {
	sanitized := make(map[string]any, len(data))
	for k, v := range data {
		if isSensitiveKey(k) {
			sanitized[k] = redactedPlaceholder
			continue
		}
		switch val := v.(type) {
		case string:
			sanitized[k] = SanitizeMessage(val)
		case map[string]any:
			sanitized[k] = SanitizeMap(val)
		default:
			sanitized[k] = v
		}
	}
	return sanitized
}

// SanitizeMessage redacts credentials and secret-shaped values from free text.
func SanitizeMessage(message string) string {
	message = credentialPattern.ReplaceAllString(message, "${1}="+redactedPlaceholder)
	return secretValuePattern.ReplaceAllString(message, redactedPlaceholder)
}

func isSensitiveKey(k string) bool {
	k = strings.ToLower(strings.TrimSpace(k))
	if sensitiveKeys[k] {
		return true
	}
	return strings.HasSuffix(k, "_secret") || strings.HasSuffix(k, "_password")
}
