package streams

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Consumer reads order requests as one member of a consumer group.
type Consumer struct {
	client   *redis.Client
	registry *SchemaRegistry
	group    string
	name     string
}

// ConsumerOption adjusts the XREADGROUP call.
type ConsumerOption func(*redis.XReadGroupArgs)

// WithBlock waits up to d for new entries.
func WithBlock(d time.Duration) ConsumerOption {
	return func(args *redis.XReadGroupArgs) {
		if d > 0 {
			args.Block = d
		}
	}
}

// WithCount caps the entries returned by one read.
func WithCount(n int64) ConsumerOption {
	return func(args *redis.XReadGroupArgs) {
		if n > 0 {
			args.Count = n
		}
	}
}

// Message is one decoded stream entry.
type Message struct {
	ID       string
	Envelope Envelope
}

// NewConsumer joins group as name. A nil registry skips payload validation.
func NewConsumer(client *redis.Client, registry *SchemaRegistry, group, name string) *Consumer {
	return &Consumer{client: client, registry: registry, group: group, name: name}
}

// EnsureGroup creates group on stream, creating the stream too. An existing
// group is not an error.
func EnsureGroup(ctx context.Context, client *redis.Client, stream, group string) error {
	if stream == "" || group == "" {
		return errors.New("stream and group required")
	}
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("xgroup create %s/%s: %w", stream, group, err)
	}
	return nil
}

func (c *Consumer) member() error {
	if c.group == "" || c.name == "" {
		return errors.New("consumer group and name required")
	}
	return nil
}

// Read returns entries never delivered to the group.
func (c *Consumer) Read(ctx context.Context, stream string, opts ...ConsumerOption) ([]Message, error) {
	if err := c.member(); err != nil {
		return nil, err
	}
	args := &redis.XReadGroupArgs{Group: c.group, Consumer: c.name, Streams: []string{stream, ">"}}
	for _, opt := range opts {
		opt(args)
	}
	res, err := c.client.XReadGroup(ctx, args).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup %s: %w", stream, err)
	}
	var out []Message
	for _, st := range res {
		out = append(out, c.accept(ctx, stream, st.Messages)...)
	}
	return out, nil
}

// AutoClaim takes over entries pending longer than minIdle, starting at
// start. The returned cursor continues the scan; "0-0" means it is done.
func (c *Consumer) AutoClaim(ctx context.Context, stream string, minIdle time.Duration, start string, count int64) ([]Message, string, error) {
	if err := c.member(); err != nil {
		return nil, "", err
	}
	msgs, next, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    c.group,
		Consumer: c.name,
		MinIdle:  minIdle,
		Start:    start,
		Count:    count,
	}).Result()
	if err != nil {
		return nil, "", fmt.Errorf("xautoclaim %s: %w", stream, err)
	}
	return c.accept(ctx, stream, msgs), next, nil
}

// Ack marks ids as processed by the group.
func (c *Consumer) Ack(ctx context.Context, stream string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.client.XAck(ctx, stream, c.group, ids...).Err(); err != nil {
		return fmt.Errorf("xack %s: %w", stream, err)
	}
	return nil
}

// accept decodes entries. Undecodable or invalid ones are acked and dropped
// so a poison entry never stalls the group.
func (c *Consumer) accept(ctx context.Context, stream string, entries []redis.XMessage) []Message {
	out := make([]Message, 0, len(entries))
	for _, entry := range entries {
		env, err := fromEntry(entry)
		if err == nil && c.registry != nil {
			err = c.registry.Validate(env.EventType, env.Version, env.Data)
		}
		if err != nil {
			_ = c.client.XAck(ctx, stream, c.group, entry.ID).Err()
			countDropped(ctx, stream)
			continue
		}
		out = append(out, Message{ID: entry.ID, Envelope: env})
	}
	return out
}

// Backlog describes how far the group trails its stream.
type Backlog struct {
	Pending    int64
	Lag        int64
	Consumers  int64
	OldestIdle time.Duration
}

func (b Backlog) String() string {
	return fmt.Sprintf("pending=%d lag=%d consumers=%d oldest_idle=%s", b.Pending, b.Lag, b.Consumers, b.OldestIdle)
}

// Backlog reports the group's delivered-but-unacked and never-delivered
// entry counts on stream.
func (c *Consumer) Backlog(ctx context.Context, stream string) (Backlog, error) {
	groups, err := c.client.XInfoGroups(ctx, stream).Result()
	if err != nil {
		return Backlog{}, fmt.Errorf("xinfo groups %s: %w", stream, err)
	}
	var b Backlog
	found := false
	for _, g := range groups {
		if g.Name == c.group {
			b = Backlog{Pending: g.Pending, Lag: g.Lag, Consumers: g.Consumers}
			found = true
			break
		}
	}
	if !found {
		return Backlog{}, fmt.Errorf("group %s not found on %s", c.group, stream)
	}
	if b.Pending == 0 {
		return b, nil
	}
	oldest, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  c.group,
		Start:  "-",
		End:    "+",
		Count:  1,
	}).Result()
	if err != nil {
		return b, fmt.Errorf("xpending %s: %w", stream, err)
	}
	if len(oldest) > 0 {
		b.OldestIdle = oldest[0].Idle
	}
	return b, nil
}
