package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Span names for the reconciler tick, the agent run, and the chat send
// path. No code in this module calls StartSpan with them.
const (
	SpanReconcilerTick = "discord_agents.reconciler.tick"
	SpanAgentRun       = "discord_agents.agent.run"
	SpanChatSend       = "discord_agents.chat.send"
)

// Common attribute keys.
const (
	AttrBotID   = "discord_agents.bot_id"
	AttrModel   = "discord_agents.model"
	AttrOutcome = "discord_agents.outcome"
)

// NewTracerProvider builds an SDK tracer provider tagged with serviceName
// and installs it as the global provider. No exporter is attached by
// default; spans are recorded and sampled but not shipped anywhere until
// one is attached via WithBatcher at a call site that needs it.
func NewTracerProvider(ctx context.Context, serviceName, serviceVersion string) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetTracerProvider(provider)
	return provider, nil
}

// StartSpan starts a span on the global tracer under name, attaching botID
// when non-empty.
func StartSpan(ctx context.Context, name, botID string) (context.Context, trace.Span) {
	tracer := otel.Tracer("discord-agents")
	var attrs []attribute.KeyValue
	if botID != "" {
		attrs = append(attrs, attribute.String(AttrBotID, botID))
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
