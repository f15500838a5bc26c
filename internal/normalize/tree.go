package normalize

import (
	"strconv"
	"strings"
)

// str returns the first key holding a non-blank string or a number.
func str(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if text := scalar(m[key]); text != "" {
			return text
		}
	}
	return ""
}

func scalar(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func obj(m map[string]any, keys ...string) map[string]any {
	for _, key := range keys {
		if v, ok := m[key].(map[string]any); ok {
			return v
		}
	}
	return nil
}

func list(m map[string]any, keys ...string) []any {
	for _, key := range keys {
		if v, ok := m[key].([]any); ok {
			return v
		}
	}
	return nil
}

// stringItems keeps scalar items and reads a text field out of object
// items. Blank entries are skipped.
func stringItems(items []any) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		text := scalar(item)
		if m, ok := item.(map[string]any); ok {
			text = str(m, "texto", "descripcion", "nombre", "actividad")
		}
		if text != "" {
			out = append(out, text)
		}
	}
	return out
}

func cleanList(items []string) []string {
	var out []string
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
