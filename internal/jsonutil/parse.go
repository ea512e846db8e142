// Package jsonutil extracts and decodes JSON from model responses, which may
// arrive wrapped in markdown code fences or surrounded by prose even when a
// JSON response MIME type was requested.
package jsonutil

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StripMarkdownFences removes a ```json ... ``` (or bare ```) wrapper.
// Text without an opening fence is returned trimmed but otherwise unchanged.
func StripMarkdownFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	lines := strings.Split(text, "\n")
	if len(lines) < 3 {
		return text
	}

	end := len(lines) - 1
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			end = i
			break
		}
	}
	return strings.Join(lines[1:end], "\n")
}

// ExtractObject returns the span from the first '{' to the last '}'.
func ExtractObject(text string) (string, error) {
	start := strings.Index(text, "{")
	if start == -1 {
		return "", fmt.Errorf("no JSON object found")
	}
	end := strings.LastIndex(text, "}")
	if end < start {
		return "", fmt.Errorf("no closing } found")
	}
	return text[start : end+1], nil
}

// ParseObject strips fences, isolates the outermost JSON object and decodes
// it into a field map. Callers validate each field individually, which lets
// them tell an absent key from an explicit null.
func ParseObject(raw string) (map[string]json.RawMessage, error) {
	return ParseJSON[map[string]json.RawMessage](raw)
}

// ParseJSON strips fences, isolates the outermost JSON object and unmarshals
// it into T. A JSON null decodes to the zero T without error.
func ParseJSON[T any](raw string) (T, error) {
	var zero T

	body, err := ExtractObject(StripMarkdownFences(raw))
	if err != nil {
		return zero, fmt.Errorf("%w (raw length: %d)", err, len(raw))
	}

	var result T
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		return zero, fmt.Errorf("invalid JSON: %w (text: %s)", err, Truncate(body, 200))
	}
	return result, nil
}

// Truncate shortens s to at most n bytes for log and error previews.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
