package planner

import "fmt"

// State is the plan half of a run context. It is owned by the session loop
// and changed only by the planning and awareness phases.
type State struct {
	Plan        []Step
	CurrentStep int
	Status      string
	Reflection  string
}

// NewState builds the initial state from a planning decision. An empty plan
// is an error: nothing can be acted on.
func NewState(d *Decision) (*State, error) {
	if d == nil {
		return nil, fmt.Errorf("no planning decision")
	}
	plan, err := NormalizePlan(d.Plan)
	if err != nil {
		return nil, err
	}
	if len(plan) == 0 {
		return nil, fmt.Errorf("plan must have at least one step")
	}
	s := &State{Plan: plan, Status: d.Status, Reflection: d.Reflection}
	s.setStep(d.Step)
	return s, nil
}

// Done reports whether every step of the plan has been passed.
func (s *State) Done() bool {
	return s.CurrentStep > len(s.Plan)
}

// Current returns the step being worked on, if any.
func (s *State) Current() (Step, bool) {
	if s.CurrentStep < 1 || s.CurrentStep > len(s.Plan) {
		return Step{}, false
	}
	return s.Plan[s.CurrentStep-1], true
}

// Apply folds an awareness decision into the state. A replacement plan that
// fails validation is ignored and the old plan kept. It returns true when
// the plan is complete afterwards.
func (s *State) Apply(d *Decision) (bool, error) {
	var err error
	step := d.Step
	if len(d.Plan) > 0 {
		plan, perr := NormalizePlan(d.Plan)
		switch {
		case perr != nil:
			err = fmt.Errorf("replacement plan rejected: %w", perr)
		case len(plan) == 0:
			err = fmt.Errorf("replacement plan rejected: no usable steps")
		default:
			s.Plan = plan
			if step < 1 {
				step = s.CurrentStep
			}
		}
	}
	if d.Status != "" {
		s.Status = d.Status
	}
	if d.Reflection != "" {
		s.Reflection = d.Reflection
	}
	if step > 0 {
		s.setStep(step)
	}
	return s.Done(), err
}

// setStep keeps 1 <= CurrentStep <= len(Plan)+1.
func (s *State) setStep(step int) {
	switch {
	case step < 1:
		step = 1
	case step > len(s.Plan)+1:
		step = len(s.Plan) + 1
	}
	s.CurrentStep = step
}

// Clone returns a copy that shares nothing with s.
func (s *State) Clone() *State {
	c := *s
	c.Plan = append([]Step(nil), s.Plan...)
	return &c
}
