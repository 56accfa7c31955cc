package provider

import (
	"fmt"
	"strings"
	"time"
)

// Adapter recognizes and normalizes one platform's webhook payload.
// Implementations are stateless and safe for concurrent use.
type Adapter interface {
	Name() string
	// Detect is a cheap structural test. Registries resolve overlaps by order.
	Detect(payload map[string]any) bool
	// Validate checks required fields. Only called after Detect matched.
	Validate(payload map[string]any) bool
	// Transform must not fail for payloads that passed Validate.
	Transform(payload map[string]any) Note
}

// Clock returns the current time. Adapters that default dates use it.
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}

const isoMillis = "2006-01-02T15:04:05.000Z07:00"

func nowISO(now Clock) string {
	if now == nil {
		now = systemClock
	}
	return now().UTC().Format(isoMillis)
}

// lookupPath resolves a dotted path ("data.id") through nested objects.
func lookupPath(payload map[string]any, path string) (any, bool) {
	if payload == nil {
		return nil, false
	}
	var current any = payload
	for _, segment := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		next, ok := obj[segment]
		if !ok || next == nil {
			return nil, false
		}
		current = next
	}
	return current, true
}

func hasRequiredFields(payload map[string]any, paths ...string) bool {
	for _, path := range paths {
		if _, ok := lookupPath(payload, path); !ok {
			return false
		}
	}
	return true
}

// stringAt returns the leaf at path as a string, or "" when absent.
func stringAt(payload map[string]any, path string) string {
	value, ok := lookupPath(payload, path)
	if !ok {
		return ""
	}
	return toString(value)
}

func objectAt(payload map[string]any, path string) (map[string]any, bool) {
	value, ok := lookupPath(payload, path)
	if !ok {
		return nil, false
	}
	obj, ok := value.(map[string]any)
	return obj, ok
}

func toString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprint(v)
	}
}

// ParseTags accepts a comma separated string or an array. Entries are trimmed
// and blanks dropped. Anything else yields an empty, non-nil slice.
func ParseTags(value any) []string {
	tags := []string{}
	switch v := value.(type) {
	case string:
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				tags = append(tags, part)
			}
		}
	case []any:
		for _, item := range v {
			if item == nil {
				continue
			}
			if tag := strings.TrimSpace(toString(item)); tag != "" {
				tags = append(tags, tag)
			}
		}
	case []string:
		for _, item := range v {
			if tag := strings.TrimSpace(item); tag != "" {
				tags = append(tags, tag)
			}
		}
	}
	return tags
}
