package observability

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/harun/autopilot/internal/tracing"
)

type AuditKind string

const (
	AuditOperator AuditKind = "operator"
	AuditTool     AuditKind = "tool"
)

// AuditEvent is one side effect a run applied to its environment: a GUI
// action on a device or a tool execution.
type AuditEvent struct {
	Kind   AuditKind
	Action string
	Status string
	// Backend names the operator backend, or the tool source for tools.
	Backend string
	Fields  map[string]interface{}
}

// AuditLog is an append-only JSON log of side effects, one line per event.
type AuditLog struct {
	mu     sync.Mutex
	out    zerolog.Logger
	closer io.Closer
}

var audit struct {
	sync.RWMutex
	log *AuditLog
}

func init() {
	audit.log = &AuditLog{out: zerolog.Nop()}
}

// Auditor returns the process audit log. It discards events until
// InitAuditLogger is called.
func Auditor() *AuditLog {
	audit.RLock()
	defer audit.RUnlock()
	return audit.log
}

// InitAuditLogger sends audit events to a size-rotated file at path, or to
// stderr when path is empty. A previously opened file is closed.
func InitAuditLogger(path string) error {
	var (
		w      io.Writer = os.Stderr
		closer io.Closer
	)
	if path != "" {
		f := &lumberjack.Logger{Filename: path, MaxSize: 20, MaxBackups: 3}
		w, closer = f, f
	}

	next := &AuditLog{out: zerolog.New(w).With().Timestamp().Logger(), closer: closer}
	audit.Lock()
	prev := audit.log
	audit.log = next
	audit.Unlock()
	return prev.Close()
}

// Audit records ev against the session and span carried by ctx.
func Audit(ctx context.Context, ev AuditEvent) {
	Auditor().Record(ctx, ev)
}

func (a *AuditLog) Record(ctx context.Context, ev AuditEvent) {
	line := zerolog.Dict().
		Str("kind", string(ev.Kind)).
		Str("action", ev.Action).
		Str("status", ev.Status)
	if ev.Backend != "" {
		line = line.Str("backend", ev.Backend)
	}
	if id := tracing.GetSessionID(ctx); id != "" {
		line = line.Str("session_id", id)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		line = line.Str("trace_id", sc.TraceID().String())
		trace.SpanFromContext(ctx).AddEvent("audit."+ev.Action, trace.WithAttributes(
			attribute.String("audit.kind", string(ev.Kind)),
			attribute.String("audit.status", ev.Status),
		))
	}
	if len(ev.Fields) > 0 {
		line = line.Interface("fields", ev.Fields)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.out.Log().Dict("audit", line).Send()
}

// Close releases the audit file, if any.
func (a *AuditLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	return err
}
