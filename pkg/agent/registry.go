package agent

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/harun/autopilot/pkg/planner"
)

type command func(sessions map[string]*Session)

// Registry tracks the sessions of one process. A single goroutine owns the
// session map; every access is a command sent to it. Session methods are
// always called outside that goroutine so observers may query the
// registry while being notified.
type Registry struct {
	deps   Dependencies
	opts   Options
	logger zerolog.Logger

	commands  chan command
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// NewRegistry validates deps and starts the owner goroutine.
func NewRegistry(deps Dependencies, opts Options) (*Registry, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	r := &Registry{
		deps:     deps,
		opts:     opts.withDefaults(),
		logger:   deps.Logger.With().Str("component", "registry").Logger(),
		commands: make(chan command),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go r.loop()
	return r, nil
}

func (r *Registry) loop() {
	defer close(r.stopped)
	sessions := make(map[string]*Session)
	for {
		select {
		case cmd := <-r.commands:
			cmd(sessions)
		case <-r.quit:
			return
		}
	}
}

// do runs fn on the owner goroutine and waits for it.
func (r *Registry) do(fn command) error {
	done := make(chan struct{})
	select {
	case r.commands <- func(m map[string]*Session) {
		defer close(done)
		fn(m)
	}:
	case <-r.quit:
		return ErrRegistryClosed
	}
	<-done
	return nil
}

// Spawn creates a session and starts it on input.
func (r *Registry) Spawn(ctx context.Context, input string) (string, error) {
	s, err := NewSession(r.deps, r.opts)
	if err != nil {
		return "", err
	}
	if err := r.do(func(m map[string]*Session) { m[s.ID()] = s }); err != nil {
		return "", err
	}
	if _, err := s.Start(ctx, input); err != nil {
		_ = r.do(func(m map[string]*Session) { delete(m, s.ID()) })
		return "", err
	}
	r.logger.Debug().Str("session_id", s.ID()).Msg("Session spawned")
	return s.ID(), nil
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*Session, error) {
	var s *Session
	if err := r.do(func(m map[string]*Session) { s = m[id] }); err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Stop cancels a session's run. It reports false when the session had
// nothing to stop.
func (r *Registry) Stop(id string) (bool, error) {
	s, err := r.Get(id)
	if err != nil {
		return false, err
	}
	return s.Stop(), nil
}

// Interrupt injects text into a running session.
func (r *Registry) Interrupt(id, text string) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	return s.Interrupt(text)
}

// Continue starts a new run on a finished session.
func (r *Registry) Continue(id, text string) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	return s.Continue(text)
}

// Query returns a session snapshot including its events.
func (r *Registry) Query(id string) (Snapshot, error) {
	s, err := r.Get(id)
	if err != nil {
		return Snapshot{}, err
	}
	return s.Snapshot(true), nil
}

// List returns snapshots without events, oldest first.
func (r *Registry) List() ([]Snapshot, error) {
	sessions, err := r.all()
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot(false))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// Remove forgets a session that is not running.
func (r *Registry) Remove(id string) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	if s.Snapshot(false).Status == planner.StatusRunning {
		return ErrSessionRunning
	}
	return r.do(func(m map[string]*Session) { delete(m, id) })
}

func (r *Registry) all() ([]*Session, error) {
	var out []*Session
	err := r.do(func(m map[string]*Session) {
		out = make([]*Session, 0, len(m))
		for _, s := range m {
			out = append(out, s)
		}
	})
	return out, err
}

// Close stops every session, waits for their runs to end or ctx to
// expire, then stops the owner goroutine.
func (r *Registry) Close(ctx context.Context) error {
	sessions, err := r.all()
	if err == ErrRegistryClosed {
		return nil
	}

	for _, s := range sessions {
		s.Stop()
	}
	var waitErr error
	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-ctx.Done():
			waitErr = ctx.Err()
		}
		if waitErr != nil {
			break
		}
	}

	r.closeOnce.Do(func() { close(r.quit) })
	<-r.stopped
	r.logger.Info().Int("sessions", len(sessions)).Msg("Registry closed")
	return waitErr
}
