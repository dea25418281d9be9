// Package utils provides small shared helpers: JSON extraction from LLM
// output and filesystem conveniences.
package utils

import (
	"fmt"
	"strings"
)

// ExtractJSONObject pulls a single JSON object out of LLM output. It
// prefers a fenced ```json block, then any fenced block, then the first
// balanced top-level object. Models often wrap JSON in prose or fences
// despite instructions; unwrapping is not a fallback, the payload itself
// is never repaired.
func ExtractJSONObject(s string) (string, error) {
	if fenced, ok := extractFenced(s, "```json"); ok {
		return fenced, nil
	}
	if fenced, ok := extractFenced(s, "```"); ok {
		if strings.HasPrefix(strings.TrimSpace(fenced), "{") {
			return fenced, nil
		}
	}

	if obj, ok := extractBalanced(s); ok {
		return obj, nil
	}

	return "", fmt.Errorf("no JSON object found in response (%d bytes)", len(s))
}

// extractFenced returns the content of the first fence opened by marker.
func extractFenced(s, marker string) (string, bool) {
	start := strings.Index(s, marker)
	if start == -1 {
		return "", false
	}
	rest := s[start+len(marker):]

	// Skip the rest of the opening fence line (e.g. a language tag).
	if nl := strings.IndexByte(rest, '\n'); nl != -1 && marker == "```" {
		firstLine := strings.TrimSpace(rest[:nl])
		if firstLine != "" && !strings.HasPrefix(firstLine, "{") {
			rest = rest[nl+1:]
		}
	}

	end := strings.Index(rest, "```")
	if end == -1 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// extractBalanced finds the first brace-balanced object, respecting
// string literals and escapes.
func extractBalanced(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}

	return "", false
}
