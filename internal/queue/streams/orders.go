package streams

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/cartpilot/internal/notify"
	"github.com/mohammad-safakhou/cartpilot/models"
	"github.com/redis/go-redis/v9"
)

// Streams, envelope types and the payload version shared by the CLI, the
// API and workers.
const (
	StreamOrderRequested = "order.requested"
	StreamOrderEvents    = "order.events"

	EventOrderRequested    = "order.requested"
	EventOrderNotification = "order.event"
	EventOrderOutcome      = "order.outcome"

	PayloadV1 = "v1"
)

// ReplyKey is the list a human answer for runID is pushed to.
func ReplyKey(runID string) string {
	return "cartpilot:reply:" + strings.TrimSpace(runID)
}

// OutcomePayload summarizes a finished run. The screenshot stays in the
// journal.
type OutcomePayload struct {
	RunID       string             `json:"run_id"`
	Status      models.OrderStatus `json:"status"`
	FailedStage models.Stage       `json:"failed_stage,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	Chosen      *models.ChosenItem `json:"chosen,omitempty"`
	Recoveries  int                `json:"recoveries"`
}

func NewOutcomePayload(o models.OrderOutcome) OutcomePayload {
	return OutcomePayload{
		RunID:       o.RunID,
		Status:      o.Status,
		FailedStage: o.FailedStage,
		Reason:      o.Reason,
		Chosen:      o.Chosen,
		Recoveries:  o.Recoveries,
	}
}

// EnqueueOrder hands req to the worker group. The request id is the run id.
func (p *Publisher) EnqueueOrder(ctx context.Context, req models.OrderRequest) (string, error) {
	return p.publishRun(ctx, StreamOrderRequested, EventOrderRequested, strings.TrimSpace(req.ID), req, nil)
}

// PublishEvent appends one notification of a run.
func (p *Publisher) PublishEvent(ctx context.Context, ev notify.Event, opts ...PublishOption) (string, error) {
	return p.publishRun(ctx, StreamOrderEvents, EventOrderNotification, ev.RunID, ev, opts)
}

// PublishOutcome closes a run on the events stream.
func (p *Publisher) PublishOutcome(ctx context.Context, o models.OrderOutcome, opts ...PublishOption) (string, error) {
	return p.publishRun(ctx, StreamOrderEvents, EventOrderOutcome, o.RunID, NewOutcomePayload(o), opts)
}

// DecodeOrder reads the request out of an order.requested envelope.
func DecodeOrder(env Envelope) (models.OrderRequest, error) {
	var req models.OrderRequest
	if env.EventType != EventOrderRequested {
		return req, fmt.Errorf("unexpected event type %q", env.EventType)
	}
	err := env.Decode(&req)
	return req, err
}

// Tail reads the events stream after lastID outside any group, so every
// reader sees every event. Unreadable entries are skipped. It returns the
// messages and the cursor to continue from.
func Tail(ctx context.Context, client *redis.Client, lastID string, count int64, block time.Duration) ([]Message, string, error) {
	if lastID == "" {
		lastID = "$"
	}
	res, err := client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{StreamOrderEvents, lastID},
		Count:   count,
		Block:   block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, lastID, nil
	}
	if err != nil {
		return nil, lastID, fmt.Errorf("xread %s: %w", StreamOrderEvents, err)
	}
	var out []Message
	for _, st := range res {
		for _, entry := range st.Messages {
			lastID = entry.ID
			if env, err := fromEntry(entry); err == nil {
				out = append(out, Message{ID: entry.ID, Envelope: env})
			}
		}
	}
	return out, lastID, nil
}
