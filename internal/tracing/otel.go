package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	attrSession = attribute.Key("autopilot.session_id")
	attrRequest = attribute.Key("autopilot.request_id")
	attrAgent   = attribute.Key("autopilot.agent_id")
)

var global struct {
	sync.Mutex
	tp *sdktrace.TracerProvider
}

// Setup installs the process tracer provider. Later calls are no-ops until
// Shutdown.
func Setup(service string) error {
	global.Lock()
	defer global.Unlock()
	if global.tp != nil {
		return nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(semconv.ServiceName(service)))
	if err != nil {
		return err
	}
	global.tp = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)
	otel.SetTracerProvider(global.tp)
	return nil
}

// Shutdown flushes and releases the provider installed by Setup.
func Shutdown(ctx context.Context) error {
	global.Lock()
	tp := global.tp
	global.tp = nil
	global.Unlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan opens a span labelled with the run identifiers found in ctx.
// A ctx without a trace id adopts the span's.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	run := FromContext(ctx)
	for key, v := range map[attribute.Key]string{attrSession: run.SessionID, attrRequest: run.RequestID, attrAgent: run.AgentID} {
		if v != "" {
			attrs = append(attrs, key.String(v))
		}
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
	if sc := span.SpanContext(); run.TraceID == "" && sc.HasTraceID() {
		ctx = WithTraceID(ctx, sc.TraceID().String())
	}
	return ctx, span
}

// EndSpan ends span, marking it failed when err is set.
func EndSpan(span trace.Span, err error) {
	defer span.End()
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
