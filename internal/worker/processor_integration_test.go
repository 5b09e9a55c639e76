package worker_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/cartpilot/config"
	"github.com/mohammad-safakhou/cartpilot/internal/agent/core"
	"github.com/mohammad-safakhou/cartpilot/internal/notify"
	"github.com/mohammad-safakhou/cartpilot/internal/notify/redischan"
	"github.com/mohammad-safakhou/cartpilot/internal/queue/streams"
	"github.com/mohammad-safakhou/cartpilot/internal/worker"
	"github.com/mohammad-safakhou/cartpilot/models"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

// askingRunner asks once and succeeds with the answer as the chosen index.
type askingRunner struct {
	mu    sync.Mutex
	calls map[string]int
}

func (r *askingRunner) Run(ctx context.Context, req models.OrderRequest, ch notify.Channel) models.OrderOutcome {
	r.mu.Lock()
	r.calls[req.ID]++
	r.mu.Unlock()

	_ = ch.SendMessage(ctx, "Searching for "+req.Prompt)
	answer, err := ch.SendOptions(ctx, []string{"Plain tee", "V-neck tee"})
	out := models.OrderOutcome{RunID: req.ID, Prompt: req.Prompt, StartedAt: time.Now(), FinishedAt: time.Now()}
	if err != nil {
		out.Status = models.OrderFailed
		out.FailedStage = models.StageAwaitingChoice
		out.Reason = err.Error()
		return out
	}
	out.Status = models.OrderSucceeded
	out.Chosen = &models.ChosenItem{Index: 2, Candidate: models.Candidate{Title: "V-neck tee", Link: "https://shop.test/p/2"}, Response: answer}
	return out
}

func (r *askingRunner) count(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[id]
}

func TestProcessorRunsOrderOnce(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	redisC, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	defer func() { _ = redisC.Terminate(context.Background()) }()
	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	defer func() { _ = client.Close() }()

	registry, err := streams.NewOrderRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	pub := streams.NewPublisher(client, registry)
	cfg := config.WorkerConfig{Group: "test-group", Consumer: "test-worker", MaxInFlight: 2}
	cons := streams.NewConsumer(client, registry, cfg.Group, cfg.Consumer)
	runner := &askingRunner{calls: map[string]int{}}
	proc := worker.NewProcessor(log.New(io.Discard, "", 0), core.Single(runner), client, pub, cons, cfg, worker.WithReplyPoll(100*time.Millisecond))

	// the group must exist before the first order so nothing is skipped
	if err := streams.EnsureGroup(ctx, client, streams.StreamOrderRequested, cfg.Group); err != nil {
		t.Fatalf("ensure group: %v", err)
	}

	procCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- proc.Start(procCtx) }()

	req := models.OrderRequest{ID: "run-42", Prompt: "white tee", RequestedAt: time.Now().UTC()}
	if _, err := pub.EnqueueOrder(ctx, req); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// a redelivered request must not start a second run
	if _, err := pub.EnqueueOrder(ctx, req); err != nil {
		t.Fatalf("enqueue duplicate: %v", err)
	}

	cursor := "0"
	waitFor := func(eventType string, match func(streams.Envelope) bool) streams.Envelope {
		t.Helper()
		deadline := time.Now().Add(30 * time.Second)
		for time.Now().Before(deadline) {
			msgs, next, err := streams.Tail(ctx, client, cursor, 100, 500*time.Millisecond)
			if err != nil {
				t.Fatalf("tail: %v", err)
			}
			cursor = next
			for _, m := range msgs {
				if m.Envelope.EventType == eventType && m.Envelope.RunID == req.ID && match(m.Envelope) {
					return m.Envelope
				}
			}
		}
		t.Fatalf("no %s event for %s", eventType, req.ID)
		return streams.Envelope{}
	}

	waitFor(streams.EventOrderNotification, func(env streams.Envelope) bool {
		var ev notify.Event
		return json.Unmarshal(env.Data, &ev) == nil && ev.Kind == notify.EventOptions
	})
	if err := redischan.Reply(ctx, client, req.ID, "2"); err != nil {
		t.Fatalf("reply: %v", err)
	}
	env := waitFor(streams.EventOrderOutcome, func(streams.Envelope) bool { return true })

	var out streams.OutcomePayload
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	if out.Status != models.OrderSucceeded || out.Chosen == nil || out.Chosen.Response != "2" {
		t.Fatalf("unexpected outcome %+v", out)
	}

	stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("processor: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatalf("processor did not stop")
	}
	if n := runner.count(req.ID); n != 1 {
		t.Fatalf("order ran %d times", n)
	}
	pending, err := client.XPending(ctx, streams.StreamOrderRequested, cfg.Group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected every entry acknowledged, %d pending", pending.Count)
	}
}
