package services

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// sanitizeText strips markup from shopper supplied text such as line item notes.
func sanitizeText(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(trimmed)))
}

// sanitizeFieldValues cleans string values of submitted custom fields, recursing into nested
// maps and lists. Non-string scalars pass through unchanged.
func sanitizeFieldValues(values map[string]any) map[string]any {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]any, len(values))
	for key, value := range values {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		out[key] = sanitizeFieldValue(value)
	}
	return out
}

func sanitizeFieldValue(value any) any {
	switch v := value.(type) {
	case string:
		return sanitizeText(v)
	case map[string]any:
		return sanitizeFieldValues(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = sanitizeFieldValue(item)
		}
		return out
	default:
		return v
	}
}
