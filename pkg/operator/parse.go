package operator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	numberPattern   = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	actionHeadRegex = regexp.MustCompile(`^([a-zA-Z_][a-zA-Z0-9_]*)\s*\(`)
)

// argument names the model uses for the same input
var inputAliases = map[string]string{
	"start_box":   "start_box",
	"start_point": "start_box",
	"point":       "start_box",
	"box":         "start_box",
	"end_box":     "end_box",
	"end_point":   "end_box",
	"content":     "content",
	"text":        "content",
	"key":         "key",
	"hotkey":      "key",
	"keys":        "key",
	"direction":   "direction",
}

// ParseAction reads the actions in a model reply. It accepts the call
// syntax `click(start_box='[10,10,20,20]')`, optionally after
// `Thought:` and `Action:` headers, one action per line, or a JSON
// object `{"type": ..., "inputs": {...}}`.
func ParseAction(text string) ([]Action, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty action")
	}

	if strings.HasPrefix(text, "{") {
		var a Action
		if err := json.Unmarshal([]byte(text), &a); err != nil {
			return nil, fmt.Errorf("failed to parse action JSON: %w", err)
		}
		if a.Type == "" {
			return nil, fmt.Errorf("action type is required")
		}
		a.Type = strings.ToLower(a.Type)
		return []Action{a}, nil
	}

	if idx := strings.LastIndex(text, "Action:"); idx >= 0 {
		text = text[idx+len("Action:"):]
	} else if strings.HasPrefix(text, "Thought:") {
		return nil, fmt.Errorf("reply has a thought but no action")
	}

	var actions []Action
	rest := strings.TrimSpace(text)
	for rest != "" {
		a, consumed, err := parseCall(rest)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
		rest = strings.TrimLeft(rest[consumed:], " \t\r\n;")
	}
	if len(actions) == 0 {
		return nil, fmt.Errorf("no action found")
	}
	return actions, nil
}

// parseCall reads one `name(key='value', ...)` call from the start of s.
// A bare name without parentheses is accepted for argument-less actions.
func parseCall(s string) (Action, int, error) {
	m := actionHeadRegex.FindStringSubmatch(s)
	if m == nil {
		end := strings.IndexAny(s, "\r\n")
		if end < 0 {
			end = len(s)
		}
		name := strings.TrimSpace(s[:end])
		if name == "" || strings.ContainsAny(name, " ='\"") {
			return Action{}, 0, fmt.Errorf("malformed action: %q", s[:end])
		}
		return Action{Type: strings.ToLower(name)}, end, nil
	}

	a := Action{Type: strings.ToLower(m[1])}
	i := len(m[0])
	for {
		for i < len(s) && (s[i] == ' ' || s[i] == ',' || s[i] == '\n' || s[i] == '\t') {
			i++
		}
		if i >= len(s) {
			return Action{}, 0, fmt.Errorf("unterminated action %q", a.Type)
		}
		if s[i] == ')' {
			return a, i + 1, nil
		}

		eq := strings.IndexByte(s[i:], '=')
		if eq < 0 {
			return Action{}, 0, fmt.Errorf("malformed argument in action %q", a.Type)
		}
		key := strings.TrimSpace(s[i : i+eq])
		i += eq + 1
		for i < len(s) && s[i] == ' ' {
			i++
		}

		value, n, err := readValue(s[i:])
		if err != nil {
			return Action{}, 0, fmt.Errorf("action %q argument %q: %w", a.Type, key, err)
		}
		i += n
		setInput(&a.Inputs, key, value)
	}
}

// readValue reads a quoted or bare argument value and reports how many
// bytes it consumed.
func readValue(s string) (string, int, error) {
	if s == "" {
		return "", 0, fmt.Errorf("missing value")
	}
	quote := s[0]
	if quote != '\'' && quote != '"' {
		end := strings.IndexAny(s, ",)")
		if end < 0 {
			return "", 0, fmt.Errorf("unterminated value")
		}
		return strings.TrimSpace(s[:end]), end, nil
	}

	var b strings.Builder
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s):
			i++
			switch s[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(s[i])
			}
		case c == quote:
			return b.String(), i + 1, nil
		default:
			b.WriteByte(c)
		}
	}
	return "", 0, fmt.Errorf("unterminated string")
}

func setInput(in *ActionInputs, key, value string) {
	switch inputAliases[strings.ToLower(key)] {
	case "start_box":
		in.StartBox = value
	case "end_box":
		in.EndBox = value
	case "content":
		in.Content = value
	case "key":
		in.Key = value
	case "direction":
		in.Direction = value
	}
}

// ParseBox reads `[x1,y1,x2,y2]`, `(x1,y1,x2,y2)` or `(x,y)` and returns
// the midpoint in virtual coordinates. Model box markers such as
// <|box_start|> are ignored.
func ParseBox(box string) (Point, error) {
	nums := numberPattern.FindAllString(stripBoxTokens(box), -1)
	vals := make([]float64, 0, len(nums))
	for _, n := range nums {
		v, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return Point{}, fmt.Errorf("%w: %q", ErrInvalidBox, box)
		}
		vals = append(vals, v)
	}

	switch len(vals) {
	case 2:
		return Point{X: vals[0], Y: vals[1]}, nil
	case 4:
		return Point{X: (vals[0] + vals[2]) / 2, Y: (vals[1] + vals[3]) / 2}, nil
	default:
		return Point{}, fmt.Errorf("%w: %q", ErrInvalidBox, box)
	}
}

func stripBoxTokens(s string) string {
	for _, tok := range []string{"<|box_start|>", "<|box_end|>", "<point>", "</point>", "<bbox>", "</bbox>"} {
		s = strings.ReplaceAll(s, tok, " ")
	}
	return s
}
