package streams

import (
	"context"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	meterOnce sync.Once
	published otelmetric.Int64Counter
	dropped   otelmetric.Int64Counter
)

func instruments() {
	meter := otel.Meter("cartpilot/queue/streams")
	var err error
	if published, err = meter.Int64Counter("cartpilot_stream_published_total",
		otelmetric.WithDescription("Order envelopes appended to Redis streams")); err != nil {
		log.Printf("warn: streams meter: %v", err)
	}
	if dropped, err = meter.Int64Counter("cartpilot_stream_dropped_total",
		otelmetric.WithDescription("Order stream entries acked without processing")); err != nil {
		log.Printf("warn: streams meter: %v", err)
	}
}

func countPublished(ctx context.Context, stream, eventType string) {
	meterOnce.Do(instruments)
	if published != nil {
		published.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("stream", stream),
			attribute.String("event_type", eventType),
		))
	}
}

func countDropped(ctx context.Context, stream string) {
	meterOnce.Do(instruments)
	if dropped != nil {
		dropped.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("stream", stream)))
	}
}
