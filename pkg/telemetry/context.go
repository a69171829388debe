package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry provides a unified telemetry interface combining logging, tracing, metrics, and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// requestIDContextKey is the context key for the caller-supplied or
// generated X-Request-ID, threaded from the API Edge through to the run
// span and audit trail.
type requestIDContextKey struct{}

// WithRequestID attaches a request ID to ctx for later retrieval by
// RequestIDFromContext.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

// RequestIDFromContext returns the request ID attached by WithRequestID, or
// the empty string if none was attached.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey{}).(string)
	return id
}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	ctx = t.Logger.WithContext(ctx)
	return ctx
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown gracefully shuts down all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}

	if err := t.Tracer.Shutdown(ctx); err != nil {
		return err
	}

	return nil
}

// Flush forces all pending telemetry data to be exported.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.Tracer.ForceFlush(ctx)
}

// StartMetricsServer starts the metrics HTTP server if metrics are enabled.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer()
}

// Context Helpers for common instrumentation patterns

// InstrumentedContext creates a context with telemetry, logger fields, and a trace span.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer
}

// StartOperation begins an instrumented operation with logging, tracing, and timing.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &InstrumentedContext{
			Ctx:    ctx,
			Logger: FromContext(ctx),
			Timer:  NewTimer(),
		}
	}

	spanCtx, span := tel.Tracer.StartSpan(ctx, operation, attrs...)

	logger := tel.Logger.WithField("operation", operation)

	if span.SpanContext().IsValid() {
		logger = logger.WithFields(map[string]interface{}{
			"trace_id": span.SpanContext().TraceID().String(),
			"span_id":  span.SpanContext().SpanID().String(),
		})
	}

	return &InstrumentedContext{
		Ctx:    spanCtx,
		Span:   span,
		Logger: logger,
		Timer:  NewTimer(),
	}
}

// End finishes the instrumented operation, recording success or failure.
func (ic *InstrumentedContext) End(err error) {
	if ic.Span != nil {
		if err != nil {
			RecordError(ic.Span, err)
		} else {
			RecordSuccess(ic.Span)
		}
		ic.Span.End()
	}
}

// runSpanKey is the context key for run spans.
type runSpanKey struct{}

// runTimerKey is the context key for the run-level timer.
type runTimerKey struct{}

// WithRunContext creates a context enriched with run-specific telemetry, starting
// the top-level "fjsm.run.execute" span that every stage span nests under.
func WithRunContext(ctx context.Context, runID, requestedBy string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartRunSpan(ctx, runID)
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		SetAttributes(span, attribute.String("request.id", requestID))
	}

	logger := tel.Logger.WithRunID(runID).WithField("requested_by", requestedBy)
	spanCtx = logger.WithContext(spanCtx)

	tel.Metrics.RecordRunStarted(requestedBy)
	_ = tel.Events.PublishRunStarted(runID)

	spanCtx = context.WithValue(spanCtx, runSpanKey{}, span)
	spanCtx = context.WithValue(spanCtx, runTimerKey{}, NewTimer())

	return spanCtx
}

// EndRunContext completes the run context, recording metrics and events. faultKind
// should be the empty string on success, or the taxonomy kind (model.Fault.Kind)
// on failure — callers pass it explicitly rather than telemetry depending on
// pkg/model's error type.
func EndRunContext(ctx context.Context, runID string, makespan int, faultKind string, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	if span, ok := ctx.Value(runSpanKey{}).(trace.Span); ok {
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	var duration time.Duration
	if timer, ok := ctx.Value(runTimerKey{}).(*Timer); ok {
		duration = timer.Duration()
	}

	status := "completed"
	if err != nil {
		status = "failed"
	}
	tel.Metrics.RecordRunCompleted(status, duration)

	if err != nil {
		tel.Metrics.RecordError(faultKind)
		_ = tel.Events.PublishRunFailed(runID, faultKind, err.Error())
	} else {
		_ = tel.Events.PublishRunCompleted(runID, makespan, duration)
	}
}

// stageSpanKey is the context key for stage-level spans.
type stageSpanKey struct{}

// stageTimerKey is the context key for stage-level timers.
type stageTimerKey struct{}

// WithStageContext creates a context enriched with telemetry for one stage of
// run execution (the Run Coordinator uses read_packages, expand, solve and
// write_results).
func WithStageContext(ctx context.Context, runID, stage string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartStageSpan(ctx, runID, stage)

	logger := tel.Logger.WithRunID(runID).WithField("stage", stage)
	spanCtx = logger.WithContext(spanCtx)

	spanCtx = context.WithValue(spanCtx, stageSpanKey{}, span)
	spanCtx = context.WithValue(spanCtx, stageTimerKey{}, NewTimer())

	return spanCtx
}

// EndStageContext completes a stage context, recording metrics and closing the span.
func EndStageContext(ctx context.Context, stage, status string, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	if span, ok := ctx.Value(stageSpanKey{}).(trace.Span); ok {
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	var duration time.Duration
	if timer, ok := ctx.Value(stageTimerKey{}).(*Timer); ok {
		duration = timer.Duration()
	}

	tel.Metrics.RecordSolveStage(stage, status, duration)
}
