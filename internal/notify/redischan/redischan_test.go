package redischan_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mohammad-safakhou/cartpilot/internal/notify"
	"github.com/mohammad-safakhou/cartpilot/internal/notify/redischan"
	"github.com/mohammad-safakhou/cartpilot/internal/queue/streams"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T, ctx context.Context) *redis.Client {
	t.Helper()
	redisC, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	t.Cleanup(func() { _ = redisC.Terminate(context.Background()) })

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestChannelRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client := startRedis(t, ctx)
	registry, err := streams.NewOrderRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	pub := streams.NewPublisher(client, registry)
	ch := redischan.New(client, pub, "run-1", redischan.WithPoll(200*time.Millisecond))

	if err := ch.SendMessage(ctx, "Searching", "query: white tee"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	// stale replies pushed before the prompt must not answer it
	if err := redischan.Reply(ctx, client, "run-1", "stale"); err != nil {
		t.Fatalf("Reply: %v", err)
	}

	type result struct {
		answer string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		answer, err := ch.SendOptions(ctx, []string{"Plain tee", "V-neck tee"})
		done <- result{answer, err}
	}()

	// wait for the options event before replying
	msgs := waitForKind(t, ctx, client, notify.EventOptions, 1)
	if len(msgs[0].Labels) != 2 {
		t.Fatalf("unexpected prompt %+v", msgs[0])
	}
	if _, err := ch.SendOptions(ctx, []string{"x"}); !errors.Is(err, notify.ErrPromptOutstanding) {
		t.Fatalf("expected ErrPromptOutstanding, got %v", err)
	}
	if err := redischan.Reply(ctx, client, "run-1", "the second"); err != nil {
		t.Fatalf("Reply: %v", err)
	}

	select {
	case res := <-done:
		if res.err != nil || res.answer != "the second" {
			t.Fatalf("SendOptions = %q, %v", res.answer, res.err)
		}
	case <-ctx.Done():
		t.Fatalf("reply never arrived")
	}
	waitForKind(t, ctx, client, notify.EventReply, 1)
}

func TestChannelCancelReleasesPrompt(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	client := startRedis(t, ctx)
	pub := streams.NewPublisher(client, nil)
	ch := redischan.New(client, pub, "run-2", redischan.WithPoll(100*time.Millisecond))

	cctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	if _, err := ch.SendOptions(cctx, []string{"a"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	// the slot is free again after cancellation
	done := make(chan error, 1)
	go func() {
		_, err := ch.SendOptions(ctx, []string{"b"})
		done <- err
	}()
	waitForKind(t, ctx, client, notify.EventOptions, 2)
	if err := redischan.Reply(ctx, client, "run-2", "1"); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("SendOptions: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("reply never arrived")
	}
}

func waitForKind(t *testing.T, ctx context.Context, client *redis.Client, kind notify.EventKind, n int) []notify.Event {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		entries, err := client.XRange(ctx, streams.StreamOrderEvents, "-", "+").Result()
		if err != nil {
			t.Fatalf("xrange: %v", err)
		}
		var out []notify.Event
		for _, e := range entries {
			raw, _ := e.Values["envelope"].(string)
			env, err := streams.UnmarshalEnvelope([]byte(raw))
			if err != nil {
				continue
			}
			var ev notify.Event
			if err := json.Unmarshal(env.Data, &ev); err != nil {
				continue
			}
			if ev.Kind == kind {
				out = append(out, ev)
			}
		}
		if len(out) >= n {
			return out
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("no %s event published", kind)
	return nil
}
