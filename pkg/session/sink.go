package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/harun/autopilot/internal/tracing"
	"github.com/harun/autopilot/pkg/eventstream"
)

type record struct {
	sessionID string
	ev        eventstream.Event
}

// Sink writes session events to a Store from a single goroutine, in the
// order they were recorded. Record never blocks on the store and never
// drops an event: a slow store only grows the backlog.
type Sink struct {
	store  Store
	logger zerolog.Logger

	mu      sync.Mutex
	pending []record
	closed  bool

	wake chan struct{}
	done chan struct{}
}

// NewSink starts the writer goroutine.
func NewSink(store Store, logger zerolog.Logger) (*Sink, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	s := &Sink{
		store:  store,
		logger: logger.With().Str("component", "session_sink").Logger(),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// Record queues ev for sessionID. Events recorded after Close are ignored.
func (s *Sink) Record(sessionID string, ev eventstream.Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, record{sessionID: sessionID, ev: ev})
	s.mu.Unlock()
	s.signal()
}

func (s *Sink) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Backlog reports how many events are waiting for the store.
func (s *Sink) Backlog() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Sink) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		batch, closed := s.pending, s.closed
		s.pending = nil
		s.mu.Unlock()

		if len(batch) == 0 {
			if closed {
				return
			}
			<-s.wake
			continue
		}
		for _, r := range batch {
			s.put(r)
		}
	}
}

func (s *Sink) put(r record) {
	ctx := tracing.WithSessionID(context.Background(), r.sessionID)
	if err := s.store.Put(ctx, r.sessionID, r.ev); err != nil {
		s.logger.Error().Err(err).Str("session_id", r.sessionID).Str("event_id", r.ev.ID).Msg("Failed to persist event")
	}
}

// Close drains queued events and waits for the writer to finish. It does
// not close the store.
func (s *Sink) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.signal()
	<-s.done
}
