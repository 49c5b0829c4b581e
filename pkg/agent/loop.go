package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/autopilot/internal/observability"
	"github.com/harun/autopilot/internal/tracing"
	"github.com/harun/autopilot/pkg/eventstream"
	"github.com/harun/autopilot/pkg/llm"
	"github.com/harun/autopilot/pkg/planner"
	"github.com/harun/autopilot/pkg/toolcall"
)

const (
	reasonCompleted     = "completed"
	reasonAborted       = "aborted"
	reasonMaxIterations = "max_iterations"
	reasonError         = "error"
)

// outcome is how one pass of the loop ended. gen is the token generation
// the pass was running under.
type outcome struct {
	status  planner.RunStatus
	reason  string
	message string
	err     error
	gen     int
}

func completed(gen int, message string) outcome {
	return outcome{status: planner.StatusCompleted, reason: reasonCompleted, message: message, gen: gen}
}

func aborted(gen int) outcome {
	return outcome{status: planner.StatusAborted, reason: reasonAborted, message: ErrCancelled.Error(), gen: gen}
}

func errored(gen int, err error) outcome {
	return outcome{status: planner.StatusErrored, reason: reasonError, message: err.Error(), err: err, gen: gen}
}

func isCancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}

// run drives the loop until finish accepts an outcome. A pass that ended
// because of an interrupt is resumed under the new token.
func (s *Session) run(greet bool, done chan struct{}) {
	defer close(done)
	for {
		res := s.safeLoop(greet)
		greet = false
		if s.finish(res) {
			return
		}
		s.logger.Info().Msg("Resuming after interruption")
	}
}

func (s *Session) safeLoop(greet bool) (res outcome) {
	_, gen := s.current()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("Session loop panicked")
			res = errored(gen, fmt.Errorf("loop panicked: %v", r))
		}
	}()
	return s.loop(greet)
}

func (s *Session) loop(greet bool) outcome {
	if greet {
		ctx, _ := s.current()
		s.greet(ctx)
	}

	for {
		ctx, gen := s.current()
		if ctx.Err() != nil {
			return aborted(gen)
		}

		if s.plan() == nil {
			if err := s.planning(ctx); err != nil {
				if isCancelled(ctx, err) {
					return aborted(gen)
				}
				return errored(gen, err)
			}
			if s.plan().Done() {
				return completed(gen, "plan has no remaining steps")
			}
		}

		s.mu.Lock()
		if s.iterations >= s.opts.MaxIterations {
			s.mu.Unlock()
			return outcome{
				status:  planner.StatusAborted,
				reason:  reasonMaxIterations,
				message: fmt.Sprintf("stopped after %d iterations", s.opts.MaxIterations),
				gen:     gen,
			}
		}
		s.iterations++
		iteration := s.iterations
		s.mu.Unlock()

		terminal, message, err := s.acting(ctx, iteration)
		if err != nil {
			if isCancelled(ctx, err) {
				return aborted(gen)
			}
			return errored(gen, err)
		}
		if terminal {
			return completed(gen, message)
		}
		if ctx.Err() != nil {
			return aborted(gen)
		}

		finished := s.awareness(ctx)
		if ctx.Err() != nil {
			return aborted(gen)
		}
		if finished {
			return completed(gen, "all plan steps done")
		}
	}
}

// finish records the terminal event unless the pass was cut short by an
// interrupt, in which case it returns false and the loop resumes.
func (s *Session) finish(res outcome) bool {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	s.mu.Lock()
	if res.status != planner.StatusErrored && !s.stopped && s.gen != res.gen {
		s.lastTurn = nil
		s.mu.Unlock()
		return false
	}
	s.running = false
	s.status = res.status
	s.lastErr = res.err
	switch res.status {
	case planner.StatusCompleted:
		s.phase = PhaseDone
	case planner.StatusErrored:
		s.phase = PhaseErrored
	default:
		s.phase = PhaseAborted
	}
	s.cancel()
	span := s.span
	elapsed := time.Since(s.startedAt)
	s.mu.Unlock()

	typ := eventstream.TypeTerminate
	switch res.status {
	case planner.StatusCompleted:
		typ = eventstream.TypeComplete
	case planner.StatusErrored:
		typ = eventstream.TypeError
	}
	s.stream.Append(typ, eventstream.TerminalPayload{Reason: res.reason, Message: res.message})

	errText := ""
	if res.err != nil {
		errText = res.err.Error()
	}
	s.notify(terminalKind(typ), errText)

	observability.RecordRunFinished(string(res.status), elapsed)
	tracing.EndSpan(span, res.err)

	evt := s.logger.Info()
	if res.err != nil {
		evt = s.logger.Error().Err(res.err)
	}
	evt.Str("status", string(res.status)).
		Str("reason", res.reason).
		Dur("duration", elapsed).
		Msg("Session finished")
	return true
}

// greet races one short model reply against the greeting timeout. Any
// failure only skips the greeting.
func (s *Session) greet(ctx context.Context) {
	s.setPhase(PhaseGreeting)
	start := time.Now()

	gctx, cancel := context.WithTimeout(ctx, s.opts.GreetingTimeout)
	defer cancel()

	type reply struct {
		text string
		err  error
	}
	replies := make(chan reply, 1)
	go func() {
		text, err := s.deps.Model.AskText(gctx, llm.TextRequest{
			System:    s.systemPrompt(greetingPrompt),
			Messages:  []toolcall.Message{{Role: toolcall.RoleUser, Content: s.currentInstruction()}},
			RequestID: tracing.GetRequestID(ctx),
		})
		replies <- reply{text: text, err: err}
	}()

	timer := time.NewTimer(s.opts.GreetingTimeout)
	defer timer.Stop()

	ok := false
	select {
	case r := <-replies:
		text := strings.TrimSpace(r.text)
		switch {
		case ctx.Err() != nil:
		case r.err != nil:
			s.logger.Debug().Err(r.err).Msg("Greeting skipped")
		case text == "":
		default:
			s.stream.Append(eventstream.TypeChatMessage, eventstream.MessagePayload{Content: text})
			ok = true
		}
	case <-timer.C:
		s.logger.Debug().Dur("timeout", s.opts.GreetingTimeout).Msg("Greeting timed out")
	case <-ctx.Done():
	}
	observability.RecordPhase(string(PhaseGreeting), time.Since(start), ok)
}

func (s *Session) currentInstruction() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instruction
}

// planning makes the one call that produces the plan. Every failure is
// fatal to the run.
func (s *Session) planning(ctx context.Context) (err error) {
	s.setPhase(PhasePlanning)
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "autopilot.agent", "agent.planning")
	defer func() {
		observability.RecordPhase(string(PhasePlanning), time.Since(start), err == nil)
		tracing.EndSpan(span, err)
	}()

	reply, err := s.deps.Model.AskText(ctx, llm.TextRequest{
		System:    s.systemPrompt(planningPrompt),
		Messages:  []toolcall.Message{{Role: toolcall.RoleUser, Content: s.stream.NormalizeForPrompt()}},
		RequestID: tracing.GetRequestID(ctx),
	})
	if err != nil {
		return phaseError(PhasePlanning, ErrPlanningFailed, err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	decision, err := planner.ParseDecision(reply)
	if err != nil {
		return phaseError(PhasePlanning, ErrPlanningFailed, err)
	}
	state, err := planner.NewState(decision)
	if err != nil {
		return phaseError(PhasePlanning, ErrPlanningFailed, err)
	}

	s.setPlan(state)
	s.recordPlan(state)
	s.logger.Info().Int("steps", len(state.Plan)).Msg("Plan created")
	return nil
}

// acting offers the tool catalog, then dispatches the returned calls one
// by one in response order. It reports whether a terminal call ended the
// batch.
func (s *Session) acting(ctx context.Context, iteration int) (terminal bool, message string, err error) {
	s.setPhase(PhaseActing)
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "autopilot.agent", "agent.acting", attribute.Int("iteration", iteration))
	defer func() {
		observability.RecordPhase(string(PhaseActing), time.Since(start), err == nil)
		tracing.EndSpan(span, err)
	}()

	tools, err := s.deps.Dispatcher.Catalog(ctx)
	if err != nil {
		return false, "", phaseError(PhaseActing, ErrActionPhaseFailed, err)
	}

	s.mu.Lock()
	history := append([]toolcall.Message(nil), s.lastTurn...)
	s.mu.Unlock()
	messages := append([]toolcall.Message{{Role: toolcall.RoleUser, Content: s.stream.NormalizeForPrompt()}}, history...)

	resp, err := s.deps.Model.AskWithTools(ctx, llm.ToolsRequest{
		System:    actionSystemPrompt(s, s.plan()),
		Messages:  messages,
		Tools:     tools,
		RequestID: tracing.GetRequestID(ctx),
	})
	if err != nil {
		return false, "", phaseError(PhaseActing, ErrActionPhaseFailed, err)
	}
	if ctx.Err() != nil {
		return false, "", ctx.Err()
	}
	if len(resp.ToolCalls) == 0 {
		return false, "", phaseError(PhaseActing, ErrActionPhaseFailed, errors.New("model returned no tool call"))
	}
	if content := strings.TrimSpace(resp.Content); content != "" {
		s.stream.Append(eventstream.TypeChatMessage, eventstream.MessagePayload{Content: content})
	}

	calls, renamed := s.uniqueCalls(resp.ToolCalls)
	results := make([]toolcall.ToolResult, 0, len(calls))
	for _, call := range calls {
		if ctx.Err() != nil {
			return false, "", ctx.Err()
		}
		out, err := s.deps.Dispatcher.Dispatch(ctx, s.stream, call)
		if err != nil {
			if isCancelled(ctx, err) {
				return false, "", err
			}
			return false, "", &PhaseError{Phase: PhaseActing, Kind: err}
		}
		results = append(results, out.Result)
		if out.Terminal {
			s.logger.Info().Str("tool", call.Name).Msg("Terminal tool call")
			return true, out.Result.Text(), nil
		}
	}

	turn := []toolcall.Message(nil)
	if !renamed {
		turn = append([]toolcall.Message{resp.Assistant}, s.deps.Model.ToolResultMessages(results)...)
	}
	s.mu.Lock()
	s.lastTurn = turn
	s.mu.Unlock()
	return false, "", nil
}

// uniqueCalls replaces ids already used in this session. It reports
// whether any id changed, which invalidates the assistant message.
func (s *Session) uniqueCalls(calls []toolcall.ToolCall) ([]toolcall.ToolCall, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]toolcall.ToolCall, len(calls))
	renamed := false
	for i, c := range calls {
		if c.ID == "" || s.seenCalls[c.ID] {
			c.ID = toolcall.NewCallID()
			renamed = true
		}
		s.seenCalls[c.ID] = true
		out[i] = c
	}
	return out, renamed
}

// awareness re-evaluates the plan against the transcript. Failures are
// logged and the plan is left as it was. It reports whether the plan is
// complete.
func (s *Session) awareness(ctx context.Context) bool {
	s.setPhase(PhaseAwareness)
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "autopilot.agent", "agent.awareness")

	var err error
	defer func() {
		observability.RecordPhase(string(PhaseAwareness), time.Since(start), err == nil)
		tracing.EndSpan(span, err)
	}()

	state := s.plan().Clone()
	reply, err := s.deps.Model.AskText(ctx, llm.TextRequest{
		System:    s.systemPrompt(awarenessPrompt),
		Messages:  []toolcall.Message{{Role: toolcall.RoleUser, Content: awarenessInput(state, s.stream.NormalizeForPrompt())}},
		RequestID: tracing.GetRequestID(ctx),
	})
	if err != nil {
		if !isCancelled(ctx, err) {
			err = phaseError(PhaseAwareness, ErrAwarenessFailed, err)
			s.logger.Warn().Err(err).Msg("Awareness skipped")
		}
		return false
	}
	if ctx.Err() != nil {
		return false
	}

	decision, err := planner.ParseDecision(reply)
	if err != nil {
		err = phaseError(PhaseAwareness, ErrAwarenessFailed, err)
		s.logger.Warn().Err(err).Msg("Awareness skipped")
		return false
	}

	done, applyErr := state.Apply(decision)
	if applyErr != nil {
		s.logger.Warn().Err(applyErr).Msg("Replacement plan ignored")
	}
	s.setPlan(state)
	s.recordPlan(state)
	return done
}

// recordPlan appends the plan and, when set, the status line.
func (s *Session) recordPlan(state *planner.State) {
	steps := make([]eventstream.PlanStep, len(state.Plan))
	for i, st := range state.Plan {
		steps[i] = eventstream.PlanStep{ID: st.ID, Title: st.Title}
	}
	s.stream.Append(eventstream.TypePlanUpdate, eventstream.PlanPayload{
		Plan:        steps,
		CurrentStep: state.CurrentStep,
		Reflection:  state.Reflection,
	})
	if state.Status != "" {
		s.stream.Append(eventstream.TypeAgentStatus, eventstream.StatusPayload{Status: state.Status})
	}
}
