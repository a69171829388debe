// Package telemetry provides comprehensive observability instrumentation for the
// FJSM planner.
//
// The telemetry package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and event publishing into a unified system
// for monitoring and debugging planner operations.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//  4. Event Publishing - Async event system for audit and notifications
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "fjsm-planner"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	// Start metrics server
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
// Add telemetry to context:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context propagation:
//
//	logger := tel.Logger.NewComponentLogger("runcoordinator")
//	logger = logger.WithRunID("run-123").WithTaskInstanceID(7)
//	logger.Info("executing task instance")
//	logger.WithError(err).Error("solve stage failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing provides visibility into request flow and performance:
//
//	ctx, span := tel.Tracer.Start(ctx, "operation.name")
//	defer span.End()
//
//	// Add attributes
//	span.SetAttributes(
//	    attribute.String("run.id", runID),
//	    attribute.String("stage", "solve.stage1"),
//	)
//
//	// Record events
//	span.AddEvent("expansion.complete")
//
//	// Record errors
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Supported exporters: OTLP (production), Stdout (development)
//
// # Metrics
//
// Prometheus metrics track system behavior and performance:
//
//	// Record run execution
//	tel.Metrics.RecordRunStarted("operator@example.com")
//	tel.Metrics.RecordRunCompleted("completed", duration)
//
//	// Record a solve stage
//	tel.Metrics.RecordSolveStage("stage1", "optimal", duration)
//
//	// Record store calls
//	tel.Metrics.RecordStoreCall("relational", "write_results", duration)
//
//	// Record errors
//	tel.Metrics.RecordError("infeasible_or_timeout")
//
// Metrics are exposed via HTTP at /metrics (default: :9090/metrics)
//
// # Event Publishing
//
// The event system provides async publishing with buffering and filtering:
//
//	// Publish events
//	tel.Events.PublishRunStarted(runID)
//	tel.Events.PublishSolveStageDone(runID, 1, "optimal", 480)
//
//	// Subscribe to events
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
//	}, telemetry.FilterByLevel("warning"))
//
// Event filters: FilterByLevel, FilterByType, FilterByRunID
//
// # Context Helpers
//
// High-level helpers simplify common instrumentation patterns:
//
//	// Instrument an operation
//	ic := telemetry.StartOperation(ctx, "catalogue.reload")
//	defer ic.End(err)
//
//	ic.Logger.Info("reloading machine catalogue")
//
//	// Run context, nesting a stage context for each stage of execute()
//	ctx = telemetry.WithRunContext(ctx, runID, requestedBy)
//	defer telemetry.EndRunContext(ctx, runID, makespan, faultKind, err)
//
//	stageCtx := telemetry.WithStageContext(ctx, runID, "solve.stage1")
//	defer telemetry.EndStageContext(stageCtx, "solve.stage1", status, err)
//
// # Configuration
//
// The package provides pre-configured setups for different environments:
//
//	// Development (verbose logging, stdout traces, full sampling)
//	cfg := telemetry.DevelopmentConfig()
//
//	// Production (JSON logs, OTLP traces, 10% sampling)
//	cfg := telemetry.ProductionConfig()
//
//	// Custom configuration
//	cfg := &telemetry.Config{
//	    ServiceName: "fjsm-planner",
//	    ServiceVersion: "1.0.0",
//	    Environment: "staging",
//	    Logging: telemetry.LoggingConfig{
//	        Level: "info",
//	        Format: "json",
//	    },
//	    Tracing: telemetry.TracingConfig{
//	        Enabled: true,
//	        Exporter: "otlp",
//	        Endpoint: "otel-collector:4317",
//	        SamplingRate: 0.1,
//	    },
//	    Metrics: telemetry.MetricsConfig{
//	        Enabled: true,
//	        ListenAddress: ":9090",
//	    },
//	}
//
// # Graceful Shutdown
//
// Always shut down telemetry gracefully to flush pending data:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	if err := tel.Shutdown(ctx); err != nil {
//	    log.Printf("telemetry shutdown error: %v", err)
//	}
//
// # Integration with the Run Coordinator
//
// The run coordinator automatically integrates with telemetry when available:
//
//  1. Run execution: run-level span + metrics + lifecycle events
//  2. Solve stages: per-stage spans, stage duration histograms
//  3. Store calls: per-backend call counters and error counters
//  4. Policy engine: a rejected task fails its run with an InputError, counted
//     in fjsm_errors_by_kind_total and published as a run.failed event
//
// # Exporters
//
// Tracing supports multiple exporters:
//
//  - "stdout": print traces to stdout (development)
//  - "otlp": export via OTLP/gRPC (production, works with collectors)
//  - "none": generate traces but don't export (testing)
//
// Configure via TracingConfig.Exporter and TracingConfig.Endpoint
//
// # Common Metrics
//
// Key metrics exposed:
//
//  - fjsm_runs_started_total{requested_by}
//  - fjsm_runs_completed_total{status}
//  - fjsm_run_duration_seconds{status}
//  - fjsm_task_instances_expanded_total{mode}
//  - fjsm_solve_stage_runs_total{stage,status}
//  - fjsm_solve_stage_duration_seconds{stage}
//  - fjsm_store_calls_total{backend,operation}
//  - fjsm_errors_by_kind_total{kind}
//  - fjsm_active_runs
//
// # Best Practices
//
//  1. Always use context to propagate telemetry
//  2. Use component-specific loggers for clarity
//  3. Add meaningful attributes to spans
//  4. Record both success and failure metrics
//  5. Use appropriate log levels
//  6. Filter events to avoid overwhelming subscribers
//  7. Configure sampling for high-volume systems
//  8. Always call defer span.End() after starting a span
//  9. Shut down gracefully to avoid data loss
//
package telemetry
