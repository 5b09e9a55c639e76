package redischan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/mohammad-safakhou/cartpilot/internal/notify"
	"github.com/mohammad-safakhou/cartpilot/internal/queue/streams"
	"github.com/redis/go-redis/v9"
)

// DefaultPoll bounds each BLPOP so cancellation is noticed promptly.
const DefaultPoll = 2 * time.Second

// replyTTL keeps an unread reply from lingering after its run is gone.
const replyTTL = 24 * time.Hour

// Channel publishes run notifications to the order.events stream and reads
// the human's answer from the run's reply list.
type Channel struct {
	client *redis.Client
	pub    *streams.Publisher
	runID  string
	box    *notify.Mailbox
	poll   time.Duration
	maxLen int64
	logger *log.Logger
}

// Option configures a Channel.
type Option func(*Channel)

// WithPoll overrides the BLPOP timeout slice.
func WithPoll(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.poll = d
		}
	}
}

// WithMaxLen trims the events stream approximately to n entries.
func WithMaxLen(n int64) Option {
	return func(c *Channel) { c.maxLen = n }
}

// WithLogger sets the logger for dropped replies.
func WithLogger(l *log.Logger) Option {
	return func(c *Channel) {
		if l != nil {
			c.logger = l
		}
	}
}

// New returns a channel for one run.
func New(client *redis.Client, pub *streams.Publisher, runID string, opts ...Option) *Channel {
	c := &Channel{
		client: client,
		pub:    pub,
		runID:  runID,
		box:    notify.NewMailbox(),
		poll:   DefaultPoll,
		logger: log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Channel) publish(ctx context.Context, ev notify.Event) error {
	ev.RunID = c.runID
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	var opts []streams.PublishOption
	if c.maxLen > 0 {
		opts = append(opts, streams.WithMaxLenApprox(c.maxLen))
	}
	_, err := c.pub.PublishEvent(ctx, ev, opts...)
	return err
}

func (c *Channel) SendMessage(ctx context.Context, text string, details ...string) error {
	return c.publish(ctx, notify.Event{Kind: notify.EventMessage, Text: text, Details: details})
}

func (c *Channel) SendImage(ctx context.Context, data []byte, mime string) error {
	return c.publish(ctx, notify.Event{Kind: notify.EventImage, MIME: mime, Size: len(data), Data: data})
}

// SendOptions publishes the prompt and blocks until a reply is pushed to the
// run's reply list or ctx ends. Replies left over from before the prompt are
// discarded.
func (c *Channel) SendOptions(ctx context.Context, labels []string) (string, error) {
	ticket, err := c.box.Post(labels)
	if err != nil {
		return "", err
	}
	key := streams.ReplyKey(c.runID)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Printf("warn: clear stale replies for %s: %v", c.runID, err)
	}
	if err := c.publish(ctx, notify.Event{Kind: notify.EventOptions, Labels: labels, Details: []string{ticket.Prompt().ID}}); err != nil {
		c.box.Resolve("")
		return "", fmt.Errorf("publish prompt: %w", err)
	}

	feedCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.feed(feedCtx, key)

	answer, err := ticket.Wait(ctx)
	if err != nil {
		return "", err
	}
	if perr := c.publish(ctx, notify.Event{Kind: notify.EventReply, Text: answer}); perr != nil {
		c.logger.Printf("warn: publish reply for %s: %v", c.runID, perr)
	}
	return answer, nil
}

func (c *Channel) feed(ctx context.Context, key string) {
	for ctx.Err() == nil {
		res, err := c.client.BLPop(ctx, c.poll, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Printf("warn: blpop %s: %v", key, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.poll):
			}
			continue
		}
		if len(res) < 2 {
			continue
		}
		if err := c.box.Resolve(res[1]); err != nil {
			c.logger.Printf("warn: reply for %s dropped: %v", c.runID, err)
		}
		return
	}
}

// Reply pushes answer to the reply list of runID.
func Reply(ctx context.Context, client *redis.Client, runID, answer string) error {
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("run id required")
	}
	key := streams.ReplyKey(runID)
	pipe := client.TxPipeline()
	pipe.RPush(ctx, key, answer)
	pipe.Expire(ctx, key, replyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push reply: %w", err)
	}
	return nil
}
