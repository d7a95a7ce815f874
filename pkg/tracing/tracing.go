// Copyright 2026 fanjia1024
// OpenTelemetry integration for distributed tracing

package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "taskflow"

// Config controls exporter target and resource identity.
type Config struct {
	ServiceName    string
	ExportEndpoint string
	Insecure       bool
}

// Init builds an otlptracehttp-exported TracerProvider and installs it as
// the global tracer provider. Callers are responsible for calling
// tp.Shutdown(ctx) on process exit to flush the batcher.
func Init(ctx context.Context, cfg Config) (*sdktrace.TracerProvider, error) {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(cfg.ExportEndpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	return tp, nil
}

// StartRunSpan wraps the claim-to-outcome execution of a single run.
func StartRunSpan(ctx context.Context, runID, taskName, queue string) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, "run.execute",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("task.name", taskName),
			attribute.String("queue", queue),
		),
	)
}

// StartStepSpan wraps a single step body invocation (skipped on checkpoint
// replay, since the body itself never runs then).
func StartStepSpan(ctx context.Context, runID, stepName string) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, "run.step",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("step.name", stepName),
		),
	)
}

// StartPollSpan wraps one worker loop poll-and-claim cycle.
func StartPollSpan(ctx context.Context, queue string) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, "worker.poll",
		trace.WithAttributes(
			attribute.String("queue", queue),
		),
	)
}
