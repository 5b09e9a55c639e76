package streams

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Publisher appends order envelopes to Redis streams. Payloads are checked
// against the schema registry before XADD when one is configured.
type Publisher struct {
	client   *redis.Client
	registry *SchemaRegistry
}

// PublishOption adjusts the XADD call.
type PublishOption func(*redis.XAddArgs)

// WithMaxLenApprox trims the stream to about maxLen entries.
func WithMaxLenApprox(maxLen int64) PublishOption {
	return func(args *redis.XAddArgs) {
		if maxLen > 0 {
			args.MaxLen = maxLen
			args.Approx = true
		}
	}
}

// NewPublisher returns a publisher; a nil registry skips payload validation.
func NewPublisher(client *redis.Client, registry *SchemaRegistry) *Publisher {
	return &Publisher{client: client, registry: registry}
}

func (p *Publisher) publish(ctx context.Context, stream string, env Envelope, opts []PublishOption) (string, error) {
	if p.registry != nil {
		if err := p.registry.Validate(env.EventType, env.Version, env.Data); err != nil {
			return "", err
		}
	}
	raw, err := env.Marshal()
	if err != nil {
		return "", err
	}
	args := &redis.XAddArgs{Stream: stream, Values: map[string]any{envelopeField: raw}}
	for _, opt := range opts {
		opt(args)
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	countPublished(ctx, stream, env.EventType)
	return id, nil
}

func (p *Publisher) publishRun(ctx context.Context, stream, eventType, runID string, payload any, opts []PublishOption) (string, error) {
	if runID == "" {
		return "", errors.New("run id required")
	}
	env, err := newEnvelope(ctx, eventType, runID, payload)
	if err != nil {
		return "", err
	}
	return p.publish(ctx, stream, env, opts)
}
