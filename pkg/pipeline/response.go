package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// responseSchema validates one stage's inference output against the JSON Schema inferred from T.
type responseSchema[T any] struct {
	stage    Node
	resolved *jsonschema.Resolved
}

func newResponseSchema[T any](stage Node) (*responseSchema[T], error) {
	s, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, fmt.Errorf("failed to infer %s response schema: %w", stage, err)
	}
	// Models sometimes add commentary fields; only the declared ones matter.
	s.AdditionalProperties = nil
	resolved, err := s.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s response schema: %w", stage, err)
	}
	return &responseSchema[T]{stage: stage, resolved: resolved}, nil
}

// decode extracts the JSON object from response, validates it and unmarshals it into T.
func (rs *responseSchema[T]) decode(response string) (T, error) {
	var out T

	raw := extractJSON(response)
	if raw == "" {
		return out, malformed(rs.stage, response, "no JSON object found")
	}

	var instance map[string]any
	if err := json.Unmarshal([]byte(raw), &instance); err != nil {
		return out, malformed(rs.stage, response, "invalid JSON: %w", err)
	}
	// null and absent are equivalent for optional fields.
	for k, v := range instance {
		if v == nil {
			delete(instance, k)
		}
	}
	if err := rs.resolved.Validate(instance); err != nil {
		return out, malformed(rs.stage, response, "schema violation: %w", err)
	}

	normalized, err := json.Marshal(instance)
	if err != nil {
		return out, malformed(rs.stage, response, "failed to re-encode: %w", err)
	}
	if err := json.Unmarshal(normalized, &out); err != nil {
		return out, malformed(rs.stage, response, "failed to decode: %w", err)
	}
	return out, nil
}

// extractJSON finds the JSON object in a model response, tolerating code fences and prose.
func extractJSON(response string) string {
	response = strings.TrimSpace(response)

	if start := strings.Index(response, "```json"); start != -1 {
		start += len("```json")
		if end := strings.Index(response[start:], "```"); end != -1 {
			return strings.TrimSpace(response[start : start+end])
		}
	}

	if start := strings.Index(response, "```"); start != -1 {
		start += 3
		if end := strings.Index(response[start:], "```"); end != -1 {
			content := strings.TrimSpace(response[start : start+end])
			if strings.HasPrefix(content, "{") {
				return content
			}
		}
	}

	if start := strings.Index(response, "{"); start != -1 {
		return extractJSONObject(response, start)
	}
	return ""
}

// extractJSONObject returns the balanced object starting at start, skipping braces inside strings.
func extractJSONObject(s string, start int) string {
	if start >= len(s) || s[start] != '{' {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
