package worker

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/mohammad-safakhou/cartpilot/config"
	"github.com/mohammad-safakhou/cartpilot/internal/agent/core"
	"github.com/mohammad-safakhou/cartpilot/internal/notify"
	"github.com/mohammad-safakhou/cartpilot/internal/notify/redischan"
	"github.com/mohammad-safakhou/cartpilot/internal/queue/streams"
	"github.com/mohammad-safakhou/cartpilot/models"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	claimKeyPrefix = "cartpilot:claimed:"
	claimTTL       = 24 * time.Hour

	// DefaultReclaimIdle is how long an unacknowledged order sits before
	// another worker takes it over.
	DefaultReclaimIdle = 10 * time.Minute
)

// Processor consumes order.requested events, runs each order with a Redis
// notification channel and publishes the outcome to order.events.
type Processor struct {
	logger    *log.Logger
	resolve   core.Resolver
	client    *redis.Client
	consumer  *streams.Consumer
	publisher *streams.Publisher
	cfg       config.WorkerConfig
	tracer    trace.Tracer
	poll      time.Duration
	idle      time.Duration

	runCounter     otelmetric.Int64Counter
	skippedCounter otelmetric.Int64Counter
}

// Option configures a Processor.
type Option func(*Processor)

// WithReplyPoll sets the BLPOP slice used by run channels.
func WithReplyPoll(d time.Duration) Option {
	return func(p *Processor) { p.poll = d }
}

// WithReclaimIdle sets how long a pending order must idle before it is reclaimed.
func WithReclaimIdle(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.idle = d
		}
	}
}

// WithMeter registers worker counters.
func WithMeter(meter otelmetric.Meter) Option {
	return func(p *Processor) {
		if meter == nil {
			return
		}
		var err error
		p.runCounter, err = meter.Int64Counter("worker_orders_processed")
		if err != nil {
			p.logger.Printf("warn: create run counter failed: %v", err)
		}
		p.skippedCounter, err = meter.Int64Counter("worker_orders_skipped")
		if err != nil {
			p.logger.Printf("warn: create skip counter failed: %v", err)
		}
	}
}

// WithTracer overrides the no-op tracer.
func WithTracer(t trace.Tracer) Option {
	return func(p *Processor) {
		if t != nil {
			p.tracer = t
		}
	}
}

// NewProcessor constructs a Processor.
func NewProcessor(logger *log.Logger, resolve core.Resolver, client *redis.Client, pub *streams.Publisher, cons *streams.Consumer, cfg config.WorkerConfig, opts ...Option) *Processor {
	p := &Processor{
		logger:    logger,
		resolve:   resolve,
		client:    client,
		consumer:  cons,
		publisher: pub,
		cfg:       cfg.Normalize(),
		tracer:    noop.NewTracerProvider().Tracer("worker"),
		idle:      DefaultReclaimIdle,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start blocks, continuously processing order.requested events until the context is cancelled.
// In-flight orders are waited for before it returns.
func (p *Processor) Start(ctx context.Context) error {
	if err := streams.EnsureGroup(ctx, p.client, streams.StreamOrderRequested, p.cfg.Group); err != nil {
		return err
	}
	p.logger.Printf("worker processor starting; consuming stream %s as %s/%s", streams.StreamOrderRequested, p.cfg.Group, p.cfg.Consumer)

	sem := make(chan struct{}, p.cfg.MaxInFlight)
	var wg sync.WaitGroup
	defer wg.Wait()

	dispatch := func(msg streams.Message) {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := p.handle(ctx, msg); err != nil {
				p.logger.Printf("error handling order message %s: %v", msg.ID, err)
			}
		}()
	}

	if err := p.resumePending(ctx, dispatch); err != nil {
		p.logger.Printf("warn: reclaim pending orders failed: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			p.logger.Printf("worker processor stopping: %v", ctx.Err())
			return nil
		default:
		}

		msgs, err := p.consumer.Read(ctx, streams.StreamOrderRequested, streams.WithBlock(5*time.Second), streams.WithCount(int64(p.cfg.MaxInFlight)))
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Printf("error reading stream: %v", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		for _, msg := range msgs {
			dispatch(msg)
		}
	}
}

// handle runs one order at most once across all workers. The entry is
// acknowledged as soon as the order is claimed, so a worker dying mid-run
// never causes a second checkout.
func (p *Processor) handle(ctx context.Context, msg streams.Message) error {
	req, err := streams.DecodeOrder(msg.Envelope)
	if err != nil {
		p.ack(ctx, msg.ID)
		return err
	}
	ctx, span := p.tracer.Start(ctx, "worker.handle_order", trace.WithAttributes(
		attribute.String("order.id", req.ID),
		attribute.String("event.id", msg.Envelope.EventID),
	))
	defer span.End()

	claimed, err := p.claim(ctx, req.ID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("claim order %s: %w", req.ID, err)
	}
	p.ack(ctx, msg.ID)
	if !claimed {
		p.logger.Printf("skip order %s: already claimed", req.ID)
		if p.skippedCounter != nil {
			p.skippedCounter.Add(ctx, 1)
		}
		return nil
	}

	outcome := p.run(ctx, req)
	if !outcome.Succeeded() {
		span.SetStatus(codes.Error, outcome.Reason)
	}
	if _, err := p.publisher.PublishOutcome(context.WithoutCancel(ctx), outcome, p.maxLen()...); err != nil {
		return fmt.Errorf("publish outcome %s: %w", req.ID, err)
	}
	if p.runCounter != nil {
		p.runCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("status", string(outcome.Status))))
	}
	p.logger.Printf("order %s finished: %s", req.ID, outcome.Status)
	return nil
}

func (p *Processor) run(ctx context.Context, req models.OrderRequest) models.OrderOutcome {
	opts := []redischan.Option{redischan.WithLogger(p.logger), redischan.WithMaxLen(p.cfg.EventsMaxLen)}
	if p.poll > 0 {
		opts = append(opts, redischan.WithPoll(p.poll))
	}
	ch := redischan.New(p.client, p.publisher, req.ID, opts...)
	runner, err := p.resolve(strings.TrimSpace(req.Storefront))
	if err != nil {
		return p.refuse(ctx, ch, req, err)
	}
	return runner.Run(ctx, req, ch)
}

// refuse fails a run that never started, telling the requester why once.
func (p *Processor) refuse(ctx context.Context, ch notify.Channel, req models.OrderRequest, err error) models.OrderOutcome {
	now := time.Now().UTC()
	out := models.OrderOutcome{
		RunID:       req.ID,
		Status:      models.OrderFailed,
		Prompt:      req.Prompt,
		UserID:      req.UserID,
		FailedStage: models.StageStarting,
		Reason:      fmt.Sprintf("Storefront failed: %v", err),
		StartedAt:   now,
		FinishedAt:  now,
	}
	detail := fmt.Sprintf("stage: %s", models.StageStarting)
	if serr := ch.SendMessage(context.WithoutCancel(ctx), out.Reason, detail); serr != nil {
		p.logger.Printf("warn: notify %s: %v", req.ID, serr)
	}
	return out
}

func (p *Processor) claim(ctx context.Context, runID string) (bool, error) {
	return p.client.SetNX(ctx, claimKeyPrefix+runID, p.cfg.Consumer, claimTTL).Result()
}

func (p *Processor) maxLen() []streams.PublishOption {
	if p.cfg.EventsMaxLen <= 0 {
		return nil
	}
	return []streams.PublishOption{streams.WithMaxLenApprox(p.cfg.EventsMaxLen)}
}

func (p *Processor) ack(ctx context.Context, id string) {
	if err := p.consumer.Ack(context.WithoutCancel(ctx), streams.StreamOrderRequested, id); err != nil {
		p.logger.Printf("warn: failed to ack message %s: %v", id, err)
	}
}

// resumePending takes over entries another worker read but never claimed.
func (p *Processor) resumePending(ctx context.Context, dispatch func(streams.Message)) error {
	start := "0-0"
	for {
		msgs, next, err := p.consumer.AutoClaim(ctx, streams.StreamOrderRequested, p.idle, start, 16)
		if err != nil {
			return err
		}
		for _, msg := range msgs {
			p.logger.Printf("reclaimed order message %s", msg.ID)
			dispatch(msg)
		}
		if next == "" || next == "0-0" {
			return nil
		}
		start = next
	}
}
