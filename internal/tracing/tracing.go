// Package tracing configures the OpenTelemetry tracer provider and holds the
// span helpers shared by the engine and the AI adapter.
package tracing

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const scope = "autoreply"

// Span names.
const (
	SpanHandleMessage = "autoreply.handle_message"
	SpanAIGenerate    = "autoreply.ai.generate"
	SpanDispatch      = "autoreply.dispatch"
)

// Attribute keys.
const (
	AttrChannel        = "autoreply.channel"
	AttrConversationID = "autoreply.conversation_id"
	AttrReplyKind      = "autoreply.reply_kind"
	AttrVerdict        = "autoreply.verdict"
	AttrModel          = "autoreply.llm.model"
	AttrStatus         = "autoreply.status"
)

// Config selects the OTLP exporter.
type Config struct {
	Enabled     bool
	Endpoint    string // host:port
	Protocol    string // "grpc" (default) or "http"
	Insecure    bool
	ServiceName string
	Headers     map[string]string
}

// Setup installs a global tracer provider and returns its shutdown func.
// When tracing is disabled the global no-op provider stays in place.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if !cfg.Enabled {
		return noop, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "autoreply"
	}

	var (
		exp sdktrace.SpanExporter
		err error
	)
	switch cfg.Protocol {
	case "", "grpc":
		opts := []otlptracegrpc.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		exp, err = otlptracegrpc.New(ctx, opts...)
	case "http":
		opts := []otlptracehttp.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
		}
		exp, err = otlptracehttp.New(ctx, opts...)
	default:
		return noop, fmt.Errorf("unsupported telemetry protocol %q", cfg.Protocol)
	}
	if err != nil {
		return noop, fmt.Errorf("create otlp exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
		)),
	)
	otel.SetTracerProvider(tp)
	slog.Info("tracing enabled", "endpoint", cfg.Endpoint, "protocol", cfg.Protocol)

	return tp.Shutdown, nil
}

// Start opens a span on the package tracer.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(scope).Start(ctx, name, trace.WithAttributes(attrs...))
}

// End records err (if any) and ends span.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String(AttrStatus, "error"))
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.String(AttrStatus, "success"))
	}
	span.End()
}
