package utils

import (
	"regexp"
	"strings"
)

// Any text between the braces is a key, trimmed.
var placeholderPattern = regexp.MustCompile(`\{\{([^{}]+?)\}\}`)

func placeholderKey(match []string) string {
	return strings.TrimSpace(match[1])
}

// RenderPlaceholders replaces every {{key}} in body with fields[key].
// Keys without a value render as the empty string.
func RenderPlaceholders(body string, fields map[string]string) string {
	if !strings.Contains(body, "{{") {
		return body
	}
	return placeholderPattern.ReplaceAllStringFunc(body, func(match string) string {
		return fields[placeholderKey(placeholderPattern.FindStringSubmatch(match))]
	})
}

// PlaceholderKeys lists the distinct keys referenced by body in order of first use.
func PlaceholderKeys(body string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(body, -1)
	seen := make(map[string]bool, len(matches))
	keys := make([]string, 0, len(matches))
	for _, m := range matches {
		key := placeholderKey(m)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}
	return keys
}
