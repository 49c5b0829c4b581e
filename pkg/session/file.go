package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/autopilot/internal/observability"
	"github.com/harun/autopilot/internal/tracing"
	"github.com/harun/autopilot/pkg/eventstream"
)

const (
	fileSuffix = ".jsonl"
	// maxLine bounds one JSONL record; screenshots are large.
	maxLine = 32 * 1024 * 1024
)

// FileStore keeps one JSONL file per session. Every Put appends a line;
// Load merges repeated versions of an event.
type FileStore struct {
	dir        string
	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	observability.EnsureRegistered()

	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, ".autopilot", "sessions")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	log.Info().Str("dir", dir).Msg("File session store initialized")
	return &FileStore{dir: dir, writeLocks: make(map[string]*sync.Mutex)}, nil
}

func (fs *FileStore) path(sessionID string) string {
	return filepath.Join(fs.dir, sessionID+fileSuffix)
}

func (fs *FileStore) writeLock(sessionID string) *sync.Mutex {
	fs.locksMu.Lock()
	defer fs.locksMu.Unlock()
	lock, ok := fs.writeLocks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		fs.writeLocks[sessionID] = lock
	}
	return lock
}

// Put appends ev to the session file.
func (fs *FileStore) Put(ctx context.Context, sessionID string, ev eventstream.Event) (err error) {
	_, span := tracing.StartSpan(ctx, "autopilot.session", "session.put",
		attribute.String("session_id", sessionID),
		attribute.String("event_type", string(ev.Type)))
	start := time.Now()
	defer func() {
		observability.RecordStoreOp("file", "put", time.Since(start), err == nil)
		tracing.EndSpan(span, err)
	}()

	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	lock := fs.writeLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	file, err := os.OpenFile(fs.path(sessionID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if ev.Type.IsTerminal() {
		if err := file.Sync(); err != nil {
			return fmt.Errorf("failed to sync file: %w", err)
		}
	}
	return nil
}

// Load reads the session file. Corrupt lines are skipped with a warning.
func (fs *FileStore) Load(ctx context.Context, sessionID string) (events []eventstream.Event, err error) {
	ctx, span := tracing.StartSpan(ctx, "autopilot.session", "session.load",
		attribute.String("session_id", sessionID))
	start := time.Now()
	defer func() {
		observability.RecordStoreOp("file", "load", time.Since(start), err == nil)
		tracing.EndSpan(span, err)
	}()
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("session_id", sessionID).Logger()

	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}

	file, err := os.Open(fs.path(sessionID))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev eventstream.Event
		if err := json.Unmarshal(line, &ev); err != nil || ev.ID == "" {
			logger.Warn().Int("line", lineNum).Err(err).Msg("Failed to parse line, skipping")
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	events = mergeVersions(events)
	logger.Debug().Int("events", len(events)).Msg("Session loaded")
	return events, nil
}

// List returns stored session ids sorted by name.
func (fs *FileStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	ids := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, fileSuffix))
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes a session file. Deleting an unknown session is not an
// error.
func (fs *FileStore) Delete(ctx context.Context, sessionID string) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}

	lock := fs.writeLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(fs.path(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}

	fs.locksMu.Lock()
	delete(fs.writeLocks, sessionID)
	fs.locksMu.Unlock()

	log.Info().Str("session_id", sessionID).Msg("Session deleted")
	return nil
}

// Compact rewrites a session file with one line per event, dropping
// superseded versions and corrupt lines.
func (fs *FileStore) Compact(ctx context.Context, sessionID string) error {
	events, err := fs.Load(ctx, sessionID)
	if err != nil {
		return err
	}

	lock := fs.writeLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sessionPath := fs.path(sessionID)
	tempPath := sessionPath + ".tmp"
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to write event: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to flush file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	file.Close()

	if err := os.Rename(tempPath, sessionPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	log.Info().Str("session_id", sessionID).Int("events", len(events)).Msg("Session compacted")
	return nil
}

func (fs *FileStore) Close() error { return nil }
