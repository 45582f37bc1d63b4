package telemetry

import (
	"maps"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/redactai/redactai/internal/redact"
	"github.com/redactai/redactai/internal/safety"
)

const (
	maxAttrString = 256
	maxAttrSlice  = 16
)

// Keys containing any of these never become attributes, whatever their value.
var denyKeys = []string{
	"text",
	"excerpt",
	"prompt",
	"content",
	"authorization",
	"api_key",
	"token",
	"secret",
	"password",
	"email",
	"phone",
	"credit_card",
}

// SafeAttributes converts span values into attributes in key order. Denied keys,
// long strings and unsupported types are dropped; the remaining strings are
// passed through redact.String.
func SafeAttributes(values map[string]interface{}) []attribute.KeyValue {
	if len(values) == 0 {
		return nil
	}
	attrs := make([]attribute.KeyValue, 0, len(values))
	for _, k := range slices.Sorted(maps.Keys(values)) {
		if denied(k) {
			continue
		}
		switch val := values[k].(type) {
		case string:
			if len(val) > maxAttrString {
				continue
			}
			attrs = append(attrs, attribute.String(k, redact.String(val)))
		case safety.Decision:
			attrs = append(attrs, attribute.String(k, string(val)))
		case safety.ContentCategory:
			attrs = append(attrs, attribute.String(k, string(val)))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case []string:
			attrs = append(attrs, attribute.StringSlice(k, capSlice(val)))
		case []safety.SecretCategory:
			tags := make([]string, len(val))
			for i, c := range val {
				tags[i] = string(c)
			}
			attrs = append(attrs, attribute.StringSlice(k, capSlice(tags)))
		}
	}
	return attrs
}

func denied(key string) bool {
	lk := strings.ToLower(key)
	for _, bad := range denyKeys {
		if strings.Contains(lk, bad) {
			return true
		}
	}
	return false
}

func capSlice(in []string) []string {
	if len(in) <= maxAttrSlice {
		return in
	}
	return in[:maxAttrSlice]
}
