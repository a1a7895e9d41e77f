package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
)

type (
	// ClueLogger delegates to goa.design/clue/log, which reads its format and
	// debug settings from the context (see log.Context / log.WithFormat).
	ClueLogger struct{}

	// OtelMetrics delegates to the global OpenTelemetry MeterProvider.
	OtelMetrics struct {
		meter   metric.Meter
		counter map[string]metric.Float64Counter
	}

	// OtelTracer delegates to the global OpenTelemetry TracerProvider.
	OtelTracer struct {
		tracer trace.Tracer
	}

	otelSpan struct {
		span trace.Span
	}
)

// NewClueLogger constructs a Logger backed by goa.design/clue/log.
func NewClueLogger() Logger { return ClueLogger{} }

// NewOtelMetrics constructs a Metrics recorder backed by the global OTEL
// MeterProvider. Configure the provider before use (e.g. via clue's
// ConfigureOpenTelemetry or an explicit exporter).
func NewOtelMetrics() Metrics {
	return &OtelMetrics{
		meter:   otel.Meter("github.com/fieldnote-ai/homeagent/kernel"),
		counter: make(map[string]metric.Float64Counter),
	}
}

// NewOtelTracer constructs a Tracer backed by the global OTEL TracerProvider.
func NewOtelTracer() Tracer {
	return &OtelTracer{tracer: otel.Tracer("github.com/fieldnote-ai/homeagent/kernel")}
}

func (ClueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, msg, toClueKV(keyvals)...)
}

func (ClueLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Print(ctx, log.Fmt(msg, keyvals...))
}

func (ClueLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	log.Print(ctx, log.Fmt(msg, keyvals...))
}

func (ClueLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	log.Error(ctx, asError(msg), toClueKV(keyvals)...)
}

func toClueKV(keyvals []any) []log.KV {
	out := make([]log.KV, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		k, _ := keyvals[i].(string)
		out = append(out, log.KV{K: k, V: keyvals[i+1]})
	}
	return out
}

// asError adapts a plain message into an error so it can flow through
// clue's Error sink, which expects an error value rather than a string.
type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func asError(msg string) error { return simpleErr(msg) }

func (m *OtelMetrics) IncCounter(name string, value float64, labels ...string) {
	if m == nil || m.meter == nil {
		return
	}
	c, ok := m.counter[name]
	if !ok {
		var err error
		c, err = m.meter.Float64Counter(name)
		if err != nil {
			return
		}
		m.counter[name] = c
	}
	c.Add(context.Background(), value, metric.WithAttributes(attrsFromLabels(labels)...))
}

func (m *OtelMetrics) RecordTimer(name string, d time.Duration, labels ...string) {
	m.IncCounter(name+"_ms", float64(d.Milliseconds()), labels...)
}

func (m *OtelMetrics) RecordGauge(name string, value float64, labels ...string) {
	m.IncCounter(name, value, labels...)
}

func attrsFromLabels(labels []string) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		out = append(out, attribute.String(labels[i], labels[i+1]))
	}
	return out
}

func (t *OtelTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name, opts...)
	return ctx, otelSpan{span: span}
}

func (s otelSpan) End(opts ...trace.SpanEndOption) { s.span.End(opts...) }

func (s otelSpan) AddEvent(name string, keyvals ...any) {
	attrs := make([]trace.EventOption, 0, 1)
	if len(keyvals) > 0 {
		attrs = append(attrs, trace.WithAttributes())
	}
	s.span.AddEvent(name, attrs...)
}

func (s otelSpan) SetStatus(code otelcodes.Code, description string) {
	s.span.SetStatus(code, description)
}

func (s otelSpan) RecordError(err error, opts ...trace.EventOption) {
	s.span.RecordError(err, opts...)
}
