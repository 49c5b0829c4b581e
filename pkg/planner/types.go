package planner

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Step is one entry of the agent's working plan.
type Step struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// UnmarshalJSON accepts either a bare title string or an {id, title} object.
func (s *Step) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, `"`) {
		var title string
		if err := json.Unmarshal(data, &title); err != nil {
			return err
		}
		*s = Step{Title: title}
		return nil
	}

	type plain Step
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("plan step: %w", err)
	}
	*s = Step(p)
	return nil
}

// RunStatus is the authoritative lifecycle state of a run.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusAborted   RunStatus = "aborted"
	StatusErrored   RunStatus = "errored"
)

// Finished reports whether the run has reached a terminal status.
func (s RunStatus) Finished() bool {
	return s == StatusCompleted || s == StatusAborted || s == StatusErrored
}

// Decision is what the planning and awareness calls return.
type Decision struct {
	Step       int    `json:"step"`
	Status     string `json:"status"`
	Reflection string `json:"reflection"`
	Plan       []Step `json:"plan,omitempty"`
}
