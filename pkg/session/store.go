package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/harun/autopilot/internal/config"
	"github.com/harun/autopilot/pkg/eventstream"
)

// ErrNotFound is returned by Load for an unknown session id.
var ErrNotFound = errors.New("session not found")

// Store persists the ordered event list of each session. Put is an upsert
// keyed by event id: an updated event keeps its original position.
type Store interface {
	Put(ctx context.Context, sessionID string, ev eventstream.Event) error
	Load(ctx context.Context, sessionID string) ([]eventstream.Event, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, sessionID string) error
	Close() error
}

// Open builds the store named by cfg. It returns nil for kind "none".
func Open(cfg config.StoreConfig) (Store, error) {
	switch cfg.Kind {
	case "", "none":
		return nil, nil
	case "file":
		fs, err := NewFileStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case "sqlite":
		sq, err := NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return sq, nil
	}
	return nil, fmt.Errorf("unknown store kind %q", cfg.Kind)
}

// Restore loads a session into a fresh stream.
func Restore(ctx context.Context, store Store, sessionID string) (*eventstream.Stream, error) {
	events, err := store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	stream := eventstream.New()
	stream.Restore(events)
	return stream, nil
}

// validateSessionID keeps ids path-safe for the file store and sane for
// the others.
func validateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("session id cannot contain '..'")
	}
	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("session id cannot contain path separators")
	}
	if strings.Contains(id, "\x00") {
		return fmt.Errorf("session id cannot contain null bytes")
	}
	return nil
}

// mergeVersions folds repeated versions of an event into its first
// position, keeping the newest payload.
func mergeVersions(events []eventstream.Event) []eventstream.Event {
	index := make(map[string]int, len(events))
	out := make([]eventstream.Event, 0, len(events))
	for _, ev := range events {
		if i, ok := index[ev.ID]; ok {
			out[i] = ev
			continue
		}
		index[ev.ID] = len(out)
		out = append(out, ev)
	}
	return out
}
