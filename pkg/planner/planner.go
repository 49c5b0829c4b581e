package planner

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/harun/autopilot/internal/llmutil"
)

// decisionSchema is shared by the planning and awareness replies.
const decisionSchema = `{
  "type": "object",
  "properties": {
    "step": {"type": "integer", "minimum": 0},
    "status": {"type": "string"},
    "reflection": {"type": "string"},
    "plan": {
      "type": "array",
      "items": {
        "oneOf": [
          {"type": "string", "minLength": 1},
          {
            "type": "object",
            "properties": {
              "id": {"type": "string"},
              "title": {"type": "string", "minLength": 1}
            },
            "required": ["title"]
          }
        ]
      }
    }
  },
  "required": ["step", "status"]
}`

var schemaLoader = gojsonschema.NewStringLoader(decisionSchema)

// ParseDecision extracts and validates a decision from a model reply.
func ParseDecision(reply string) (*Decision, error) {
	raw := llmutil.ExtractJSON(reply)

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewStringLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("decision is not valid JSON: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("decision does not match schema: %s", strings.Join(msgs, "; "))
	}

	return llmutil.ParseJSONResponse[Decision](raw)
}

// NormalizePlan trims titles, drops empty steps and assigns step_NNN ids to
// steps without one. Duplicate ids are rejected.
func NormalizePlan(steps []Step) ([]Step, error) {
	out := make([]Step, 0, len(steps))
	seen := make(map[string]bool, len(steps))

	for _, st := range steps {
		st.Title = strings.TrimSpace(st.Title)
		if st.Title == "" {
			continue
		}
		if st.ID == "" {
			st.ID = fmt.Sprintf("step_%03d", len(out)+1)
		}
		if seen[st.ID] {
			return nil, fmt.Errorf("duplicate step ID: %s", st.ID)
		}
		seen[st.ID] = true
		out = append(out, st)
	}
	return out, nil
}

// Describe renders the plan for a prompt, marking the current step.
func Describe(s *State) string {
	if s == nil || len(s.Plan) == 0 {
		return "(no plan)"
	}
	var b strings.Builder
	for i, st := range s.Plan {
		marker := "[ ]"
		switch {
		case i+1 < s.CurrentStep:
			marker = "[x]"
		case i+1 == s.CurrentStep:
			marker = "[>]"
		}
		fmt.Fprintf(&b, "%s %d. %s (%s)\n", marker, i+1, st.Title, st.ID)
	}
	return strings.TrimRight(b.String(), "\n")
}
