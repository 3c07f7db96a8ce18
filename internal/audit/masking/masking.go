// Package masking redacts customer contact details and credentials before
// they reach audit rows or logs.
package masking

import (
	"strings"
	"unicode"
)

const maskToken = "****"

// sensitiveKeys are metadata keys whose string values are masked.
var sensitiveKeys = map[string]bool{
	"signature":      true,
	"api_key":        true,
	"key_secret":     true,
	"webhook_secret": true,
	"card_number":    true,
	"phone":          true,
	"address":        true,
}

// IsSensitive reports whether values under key are masked.
func IsSensitive(key string) bool {
	return sensitiveKeys[strings.ToLower(strings.TrimSpace(key))]
}

// MaskSecret keeps a gateway-style prefix ("rzp_test_") and the last four
// characters.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	prefix := ""
	if i := strings.LastIndex(trimmed, "_"); i >= 0 && i < len(trimmed)-1 {
		prefix, trimmed = trimmed[:i+1], trimmed[i+1:]
	}
	if len(trimmed) <= 4 {
		return prefix + maskToken
	}
	return prefix + maskToken + trimmed[len(trimmed)-4:]
}

// MaskPhone keeps the last four digits so operators can still match a
// customer on a call.
func MaskPhone(value string) string {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, value)
	if len(digits) <= 4 {
		return maskToken
	}
	return maskToken + digits[len(digits)-4:]
}

// MaskMetadata copies metadata with sensitive values masked. Nested maps
// are walked; numbers and other values pass through.
func MaskMetadata(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]any, len(metadata))
	for key, value := range metadata {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		out[key] = maskValue(key, value)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func maskValue(key string, value any) any {
	switch v := value.(type) {
	case map[string]any:
		return MaskMetadata(v)
	case string:
		switch {
		case !IsSensitive(key):
			return v
		case strings.EqualFold(key, "phone"):
			return MaskPhone(v)
		case strings.EqualFold(key, "address"):
			return maskToken
		default:
			return MaskSecret(v)
		}
	default:
		return value
	}
}
