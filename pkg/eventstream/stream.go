package eventstream

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/harun/autopilot/internal/observability"
)

// DefaultPromptCharLimit bounds NormalizeForPrompt output.
const DefaultPromptCharLimit = 12000

// Stream is the ordered event log of one session.
//
// Appends and updates are serialized by writeMu and delivered to subscribers
// while it is held, so every subscriber sees events in log order. Readers
// take only mu and never wait on a slow subscriber. A subscriber must not
// append to the stream it observes.
type Stream struct {
	writeMu sync.Mutex

	mu     sync.RWMutex
	events []Event
	index  map[string]int

	subMu   sync.Mutex
	subs    []subscription
	nextSub int

	limit  int
	logger zerolog.Logger
	now    func() time.Time
}

type subscription struct {
	id int
	fn Subscriber
}

// Option configures a Stream.
type Option func(*Stream)

// WithPromptCharLimit sets the NormalizeForPrompt cap.
func WithPromptCharLimit(n int) Option {
	return func(s *Stream) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithLogger sets the logger used to report subscriber panics.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Stream) { s.logger = l }
}

// New creates an empty stream.
func New(opts ...Option) *Stream {
	s := &Stream{
		index:  make(map[string]int),
		limit:  DefaultPromptCharLimit,
		logger: log.Logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newEventID() string {
	return "evt_" + uuid.New().String()[:8]
}

// Append records a new event and delivers it. It never fails.
func (s *Stream) Append(t Type, payload interface{}) Event {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ev := Event{
		ID:        newEventID(),
		Type:      t,
		Timestamp: s.now(),
		Payload:   payload,
	}

	s.mu.Lock()
	s.index[ev.ID] = len(s.events)
	s.events = append(s.events, ev)
	s.mu.Unlock()

	observability.RecordEvent(string(t))
	s.deliver(ev)
	return ev
}

// UpdateTool moves a tool_used event to a new status in place and delivers
// the updated event. It refuses ids that are unknown or not tool_used.
func (s *Stream) UpdateTool(id string, fn func(*ToolUsedPayload)) (Event, bool) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	i, ok := s.index[id]
	if !ok || s.events[i].Type != TypeToolUsed {
		s.mu.Unlock()
		return Event{}, false
	}
	p, ok := s.events[i].Payload.(ToolUsedPayload)
	if !ok {
		s.mu.Unlock()
		return Event{}, false
	}
	fn(&p)
	s.events[i].Payload = p
	ev := s.events[i]
	s.mu.Unlock()

	s.deliver(ev)
	return ev, true
}

// GetAll returns a snapshot in insertion order.
func (s *Stream) GetAll() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Get returns the event with the given id.
func (s *Stream) Get(id string) (Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return Event{}, false
	}
	return s.events[i], true
}

func (s *Stream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Last returns the most recent event.
func (s *Stream) Last() (Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.events) == 0 {
		return Event{}, false
	}
	return s.events[len(s.events)-1], true
}

// Terminal reports whether the run recorded in s has ended.
func (s *Stream) Terminal() bool {
	last, ok := s.Last()
	return ok && last.Type.IsTerminal()
}

// Restore replaces the log with events loaded from an archive. Subscribers
// are not notified.
func (s *Stream) Restore(events []Event) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = make([]Event, len(events))
	copy(s.events, events)
	s.index = make(map[string]int, len(events))
	for i, ev := range s.events {
		s.index[ev.ID] = i
	}
}

// Subscribe registers fn and returns a func that removes it. Calling the
// returned func more than once is harmless.
func (s *Stream) Subscribe(fn Subscriber) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs = append(s.subs, subscription{id: id, fn: fn})
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

func (s *Stream) deliver(ev Event) {
	s.subMu.Lock()
	subs := make([]subscription, len(s.subs))
	copy(subs, s.subs)
	s.subMu.Unlock()

	for _, sub := range subs {
		s.call(sub, ev)
	}
}

func (s *Stream) call(sub subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Interface("panic", r).
				Str("event_id", ev.ID).
				Str("event_type", string(ev.Type)).
				Msg("Event subscriber panicked")
		}
	}()
	sub.fn(ev)
}

// NormalizeForPrompt renders the log as labeled lines for model context,
// keeping the most recent limit characters.
func (s *Stream) NormalizeForPrompt() string {
	events := s.GetAll()

	lines := make([]string, 0, len(events))
	for _, ev := range events {
		if line, ok := promptLine(ev); ok {
			lines = append(lines, line)
		}
	}

	return tail(strings.Join(lines, "\n\n"), s.limit)
}

func promptLine(ev Event) (string, bool) {
	switch ev.Type {
	case TypeChatMessage:
		if p, ok := ev.Payload.(MessagePayload); ok {
			return "AGENT: " + p.Content, true
		}
	case TypeUserMessage, TypeUserInterruption:
		if p, ok := ev.Payload.(MessagePayload); ok {
			return "USER: " + p.Content, true
		}
	case TypeObservation:
		if p, ok := ev.Payload.(MessagePayload); ok {
			return "OBSERVATION: " + p.Content, true
		}
	case TypeAgentStatus:
		if p, ok := ev.Payload.(StatusPayload); ok {
			return "STATUS: " + p.Status, true
		}
	case TypeToolUsed:
		if p, ok := ev.Payload.(ToolUsedPayload); ok && p.Status == ToolSuccess {
			line := fmt.Sprintf("TOOL USED: %s(%s)", p.Name, string(p.Arguments))
			if p.Description != "" {
				line += " " + p.Description
			}
			return line, true
		}
	}
	return "", false
}

// tail keeps the trailing limit runes of s.
func tail(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[len(r)-limit:])
}
