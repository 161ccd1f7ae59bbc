package llm

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StartRequestSpan opens a span around one provider request. With no SDK
// installed this is a no-op tracer, which keeps the call sites uniform.
func StartRequestSpan(ctx context.Context, op, model string, msgs int) (context.Context, trace.Span) {
	tracer := otel.Tracer("internal/llm")
	return tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("llm.model", model),
		attribute.Int("llm.messages", msgs),
	))
}

// RecordTokenAttributes annotates a span with token usage.
func RecordTokenAttributes(span trace.Span, prompt, completion, total int) {
	span.SetAttributes(
		attribute.Int("llm.prompt_tokens", prompt),
		attribute.Int("llm.completion_tokens", completion),
		attribute.Int("llm.total_tokens", total),
	)
}
