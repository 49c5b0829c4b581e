package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/harun/autopilot/internal/observability"
	"github.com/harun/autopilot/internal/tracing"
	"github.com/harun/autopilot/pkg/eventstream"
	"github.com/harun/autopilot/pkg/planner"
	"github.com/harun/autopilot/pkg/toolcall"
)

// Session runs one user instruction through the greeting, planning,
// acting and awareness phases. Progress is observed through its event
// stream; Start returns immediately.
//
// A session holds exactly one live cancellation token. Stop cancels it for
// good; Interrupt cancels it and installs a fresh one so the loop resumes
// with the interruption in its transcript.
type Session struct {
	id     string
	deps   Dependencies
	opts   Options
	stream *eventstream.Stream
	logger zerolog.Logger

	// lifeMu orders user-driven events against the terminal event so the
	// terminal event is always last.
	lifeMu sync.Mutex

	mu          sync.Mutex
	baseCtx     context.Context
	runCtx      context.Context
	span        trace.Span
	token       context.Context
	cancel      context.CancelFunc
	gen         int
	started     bool
	running     bool
	stopped     bool
	status      planner.RunStatus
	phase       Phase
	instruction string
	state       *planner.State
	iterations  int
	lastTurn    []toolcall.Message
	seenCalls   map[string]bool
	lastErr     error
	startedAt   time.Time
	done        chan struct{}
}

// NewSession creates an idle session.
func NewSession(deps Dependencies, opts Options) (*Session, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	id := uuid.New().String()
	logger := deps.Logger.With().Str("component", "agent").Str("session_id", id).Logger()

	done := make(chan struct{})
	close(done)

	s := &Session{
		id:   id,
		deps: deps,
		opts: opts,
		stream: eventstream.New(
			eventstream.WithPromptCharLimit(opts.PromptCharLimit),
			eventstream.WithLogger(logger),
		),
		logger:    logger,
		status:    planner.StatusPending,
		phase:     PhaseInit,
		seenCalls: make(map[string]bool),
		done:      done,
	}
	s.stream.Subscribe(s.onEvent)
	return s, nil
}

func (s *Session) ID() string                  { return s.id }
func (s *Session) Stream() *eventstream.Stream { return s.stream }

// Done is closed when the current run ends.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err returns the error that ended the last run, if it errored.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Wait blocks until the current run ends.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.Done():
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start records the instruction and launches the loop. The run does not
// inherit ctx's cancellation, only its values.
func (s *Session) Start(ctx context.Context, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", ErrEmptyInput
	}

	s.lifeMu.Lock()
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		s.lifeMu.Unlock()
		return "", fmt.Errorf("session %s already started", s.id)
	}
	s.started = true
	s.baseCtx = context.WithoutCancel(ctx)
	done := s.begin(input)
	s.mu.Unlock()

	s.stream.Append(eventstream.TypeUserMessage, eventstream.MessagePayload{Content: input})
	s.lifeMu.Unlock()

	s.logger.Info().Str("agent_id", s.opts.AgentID).Msg("Session started")
	go s.run(!s.opts.SkipGreeting, done)
	return s.id, nil
}

// Continue starts a new run on a finished session with a new instruction.
// The event stream is kept; the plan is rebuilt.
func (s *Session) Continue(input string) error {
	input = strings.TrimSpace(input)
	if input == "" {
		return ErrEmptyInput
	}

	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	s.mu.Lock()
	switch {
	case !s.started:
		s.mu.Unlock()
		return ErrSessionIdle
	case s.running:
		s.mu.Unlock()
		return ErrSessionRunning
	}
	s.state = nil
	s.iterations = 0
	s.lastTurn = nil
	done := s.begin(input)
	s.mu.Unlock()

	s.stream.Append(eventstream.TypeUserMessage, eventstream.MessagePayload{Content: input})
	go s.run(false, done)
	return nil
}

// begin resets the run state and issues the first token. Callers hold mu.
func (s *Session) begin(input string) chan struct{} {
	requestID := tracing.NewID()
	ctx := tracing.NewRunContext(s.baseCtx, s.id, requestID, s.opts.AgentID)
	s.runCtx, s.span = tracing.StartSpan(ctx, "autopilot.agent", "agent.run",
		attribute.String("session_id", s.id),
		attribute.String("request_id", requestID))
	s.token, s.cancel = context.WithCancel(s.runCtx)
	s.gen++
	s.running = true
	s.stopped = false
	s.status = planner.StatusRunning
	s.phase = PhaseInit
	s.instruction = input
	s.lastErr = nil
	s.startedAt = time.Now()
	s.done = make(chan struct{})
	observability.SessionStarted()
	return s.done
}

// Stop cancels the run. It returns false when there is nothing to stop.
func (s *Session) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.stopped {
		return false
	}
	s.stopped = true
	s.cancel()
	s.logger.Info().Msg("Session stop requested")
	return true
}

// Interrupt records the user's text, cancels the in-flight phase and
// issues a fresh token. The loop resumes with a new action phase, or a new
// plan when none was made yet.
func (s *Session) Interrupt(text string) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	s.mu.Lock()
	if !s.running || s.stopped {
		s.mu.Unlock()
		return ErrSessionIdle
	}
	previous := s.cancel
	s.token, s.cancel = context.WithCancel(s.runCtx)
	s.gen++
	s.mu.Unlock()

	s.stream.Append(eventstream.TypeUserInterruption, eventstream.MessagePayload{Content: strings.TrimSpace(text)})
	previous()
	s.logger.Info().Msg("Session interrupted")
	return nil
}

// current returns the live token and its generation.
func (s *Session) current() (context.Context, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.gen
}

// Snapshot copies the session state. Events are included when withEvents
// is set.
func (s *Session) Snapshot(withEvents bool) Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		ID:         s.id,
		Status:     s.status,
		Phase:      s.phase,
		Iterations: s.iterations,
		StartedAt:  s.startedAt,
	}
	if s.state != nil {
		snap.Plan = append([]planner.Step(nil), s.state.Plan...)
		snap.CurrentStep = s.state.CurrentStep
	}
	if s.lastErr != nil {
		snap.Error = s.lastErr.Error()
	}
	s.mu.Unlock()

	if withEvents {
		snap.Events = s.stream.GetAll()
	}
	return snap
}

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
	s.notify(NotifyStatus, "")
}

func (s *Session) plan() *planner.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setPlan(st *planner.State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// onEvent forwards every appended or updated event to the recorder and
// observer. It runs inside the stream's append and must not take lifeMu.
func (s *Session) onEvent(ev eventstream.Event) {
	if s.deps.Recorder != nil {
		s.deps.Recorder.Record(s.id, ev)
	}
	if !ev.Type.IsTerminal() {
		s.notify(NotifyUpdate, "")
	}
}

func (s *Session) notify(kind NotificationKind, errText string) {
	if s.deps.Observer == nil {
		return
	}
	snap := s.Snapshot(true)
	s.deps.Observer.Notify(Notification{
		Kind:        kind,
		SessionID:   s.id,
		Status:      snap.Status,
		Phase:       snap.Phase,
		Plan:        snap.Plan,
		CurrentStep: snap.CurrentStep,
		Error:       errText,
		Events:      snap.Events,
	})
}
