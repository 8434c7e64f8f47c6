package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when a response holds nothing that looks like JSON
var ErrNoJSON = errors.New("no JSON found in model response")

var (
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
	controlChars  = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
)

// ExtractJSON decodes the JSON payload of a model response into v.
// It tolerates markdown fences, surrounding prose, trailing commas and control characters.
func ExtractJSON(raw string, v interface{}) error {
	clean := stripFences(raw)

	if err := json.Unmarshal([]byte(clean), v); err == nil {
		return nil
	}

	candidate, ok := locate(clean)
	if !ok {
		return ErrNoJSON
	}

	firstErr := json.Unmarshal([]byte(candidate), v)
	if firstErr == nil {
		return nil
	}

	// Raw newlines and tabs inside strings break the decoder as well, so fold them to spaces.
	cleaned := controlChars.ReplaceAllString(candidate, "")
	cleaned = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ", "\t", " ").Replace(cleaned)
	cleaned = trailingComma.ReplaceAllString(cleaned, "$1")

	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return fmt.Errorf("failed to parse model JSON: %w", firstErr)
	}
	return nil
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// locate returns the span from the first opening bracket to the last matching closing one
func locate(s string) (string, bool) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", false
	}
	closer := "}"
	if s[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(s, closer)
	if end <= start {
		return "", false
	}
	return s[start : end+1], true
}
