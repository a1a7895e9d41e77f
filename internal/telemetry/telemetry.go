// Package telemetry defines the logging, tracing, and metrics seams used
// throughout the orchestration kernel. Every component accepts a Logger,
// Tracer, and Metrics rather than reaching for globals, so tests can pass
// no-op implementations and production wiring can pass OpenTelemetry-backed
// ones without touching component code.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger emits structured, leveled log messages. Keyvals are alternating
	// key/value pairs, following the slog/clue convention.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records counters, timers, and gauges tagged with labels.
	Metrics interface {
		IncCounter(name string, value float64, labels ...string)
		RecordTimer(name string, d time.Duration, labels ...string)
		RecordGauge(name string, value float64, labels ...string)
	}

	// Tracer starts spans for tracking request flow across the kernel's
	// pipeline stages (planning, validation, execution, verification).
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	}

	// Span is a minimal wrapper over an OpenTelemetry span so callers don't
	// need to import the otel trace package directly.
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, keyvals ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}
)
