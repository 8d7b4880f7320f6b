package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// sensitiveKeys are masked wherever they appear. Matching is on the
// lower-cased key and also catches keys that merely contain a fragment, so
// "jwt_secret" and "Authorization" are both hidden.
var sensitiveKeys = []string{"authorization", "secret", "token", "password"}

// protocolKeys name token addresses and position ids, which are never
// credentials.
var protocolKeys = map[string]struct{}{
	"token":      {},
	"tokens":     {},
	"token_id":   {},
	"sale_token": {},
	"hold_token": {},
}

// IsSensitive reports whether values logged under key are masked.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if normalized == "" {
		return false
	}
	if _, ok := protocolKeys[normalized]; ok {
		return false
	}
	for _, fragment := range sensitiveKeys {
		if strings.Contains(normalized, fragment) {
			return true
		}
	}
	return false
}

// MaskValue returns the canonical redacted placeholder for non-blank values.
// Empty or whitespace-only values are returned unchanged.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

func redactAttr(attr slog.Attr) slog.Attr {
	if !IsSensitive(attr.Key) {
		return attr
	}
	return slog.String(attr.Key, MaskValue(attr.Value.String()))
}
