package llmutil

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// fencedRegex matches a fenced code block, optionally tagged json.
// \x60 is a backtick; raw strings cannot hold one.
var fencedRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*(.*?)\\s*\x60\x60\x60")

// ExtractJSON returns the JSON document embedded in a model reply. It
// handles fenced blocks and objects or arrays wrapped in conversational text.
func ExtractJSON(response string) string {
	response = strings.TrimSpace(response)

	if m := fencedRegex.FindStringSubmatch(response); len(m) > 1 {
		inner := strings.TrimSpace(m[1])
		if strings.HasPrefix(inner, "{") || strings.HasPrefix(inner, "[") {
			return inner
		}
	}

	if strings.HasPrefix(response, "{") || strings.HasPrefix(response, "[") {
		return response
	}

	if fb, lb := strings.Index(response, "{"), strings.LastIndex(response, "}"); fb != -1 && lb > fb {
		return response[fb : lb+1]
	}
	if fb, lb := strings.Index(response, "["), strings.LastIndex(response, "]"); fb != -1 && lb > fb {
		return response[fb : lb+1]
	}
	return response
}

// ParseJSONResponse decodes the JSON embedded in a model reply into T.
func ParseJSONResponse[T any](response string) (*T, error) {
	raw := ExtractJSON(response)

	var result T
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model JSON response: %w (extracted: %s)", err, Truncate(raw, 300))
	}
	return &result, nil
}

// ScanObjects returns every balanced top-level {...} span in s, in order.
// Braces inside JSON strings are ignored.
func ScanObjects(s string) []string {
	var (
		out      []string
		depth    int
		start    = -1
		inString bool
		escaped  bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				out = append(out, s[start:i+1])
				start = -1
			}
		}
	}
	return out
}

// Truncate shortens s to at most max bytes, appending an ellipsis.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
