package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/cartpilot/config"
	"github.com/mohammad-safakhou/cartpilot/internal/notify"
	"github.com/mohammad-safakhou/cartpilot/internal/notify/redischan"
	"github.com/mohammad-safakhou/cartpilot/internal/queue/streams"
	"github.com/mohammad-safakhou/cartpilot/models"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func orderCMD() *cobra.Command {
	var storefrontName string
	var userID string
	var imageDir string
	var queue bool

	var order = &cobra.Command{
		Use:   "order <prompt>",
		Short: "Place one order from the terminal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			req := models.OrderRequest{
				ID:          uuid.NewString(),
				Prompt:      strings.Join(args, " "),
				UserID:      userID,
				Storefront:  storefrontName,
				RequestedAt: time.Now().UTC(),
			}
			out, in := cmd.OutOrStdout(), cmd.InOrStdin()

			if queue {
				cfg, err := config.LoadConfig(cfgPath)
				if err != nil {
					return err
				}
				rdb, err := newRedis(ctx, cfg.Storage.Redis)
				if err != nil {
					return err
				}
				defer func() { _ = rdb.Close() }()
				res, err := orderViaQueue(ctx, rdb, req, notify.NewConsole(out, in, imageDir))
				if err != nil {
					return err
				}
				return report(out, res)
			}

			rt, err := newRuntime(ctx, true)
			if err != nil {
				return err
			}
			defer rt.Close()
			runner, err := rt.resolve(storefrontName)
			if err != nil {
				return err
			}
			res := runner.Run(ctx, req, notify.NewConsole(out, in, imageDir))
			return report(out, streams.NewOutcomePayload(res))
		},
	}
	order.Flags().StringVar(&storefrontName, "storefront", "", "storefront profile (default is storefront.profile)")
	order.Flags().StringVar(&userID, "user", getenv("USER", "local"), "user the order is placed for")
	order.Flags().StringVar(&imageDir, "images", "", "directory for checkout screenshots (default is .)")
	order.Flags().BoolVar(&queue, "queue", false, "hand the order to a worker over Redis instead of running it here")

	return order
}

// orderViaQueue enqueues req and follows its events until the outcome
// arrives. Selection prompts are answered on ch and pushed back to the worker.
func orderViaQueue(ctx context.Context, rdb *redis.Client, req models.OrderRequest, ch notify.Channel) (streams.OutcomePayload, error) {
	reg, err := streams.NewOrderRegistry()
	if err != nil {
		return streams.OutcomePayload{}, err
	}
	pub := streams.NewPublisher(rdb, reg)

	// start after the newest event so nothing for this run is missed
	cursor := "0"
	if last, err := rdb.XRevRangeN(ctx, streams.StreamOrderEvents, "+", "-", 1).Result(); err == nil && len(last) > 0 {
		cursor = last[0].ID
	}
	if _, err := pub.EnqueueOrder(ctx, req); err != nil {
		return streams.OutcomePayload{}, err
	}
	log.Printf("order %s queued; waiting for a worker", req.ID)

	for {
		msgs, next, err := streams.Tail(ctx, rdb, cursor, 50, 2*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return streams.OutcomePayload{}, ctx.Err()
			}
			return streams.OutcomePayload{}, err
		}
		cursor = next
		for _, m := range msgs {
			if m.Envelope.RunID != req.ID {
				continue
			}
			switch m.Envelope.EventType {
			case streams.EventOrderNotification:
				var ev notify.Event
				if err := json.Unmarshal(m.Envelope.Data, &ev); err != nil {
					log.Printf("warn: skip malformed event %s: %v", m.ID, err)
					continue
				}
				if err := relay(ctx, rdb, req.ID, ev, ch); err != nil {
					return streams.OutcomePayload{}, err
				}
			case streams.EventOrderOutcome:
				var res streams.OutcomePayload
				if err := json.Unmarshal(m.Envelope.Data, &res); err != nil {
					return res, fmt.Errorf("decode outcome: %w", err)
				}
				return res, nil
			}
		}
	}
}

// relay renders a remote event on ch; a prompt is answered locally and the
// answer sent to the worker running the order.
func relay(ctx context.Context, rdb *redis.Client, runID string, ev notify.Event, ch notify.Channel) error {
	switch ev.Kind {
	case notify.EventMessage:
		return ch.SendMessage(ctx, ev.Text, ev.Details...)
	case notify.EventImage:
		return ch.SendMessage(ctx, fmt.Sprintf("Screenshot captured (%d bytes)", ev.Size), "stored with the order journal")
	case notify.EventOptions:
		answer, err := ch.SendOptions(ctx, ev.Labels)
		if err != nil {
			return err
		}
		return redischan.Reply(ctx, rdb, runID, answer)
	}
	return nil
}

// report prints the final status and turns a failed order into a non-zero exit.
func report(w io.Writer, res streams.OutcomePayload) error {
	if res.Status == models.OrderSucceeded {
		if res.Chosen != nil {
			fmt.Fprintf(w, "✓ checkout reached for %s\n  %s\n", res.Chosen.Candidate.Title, res.Chosen.Candidate.Link)
		} else {
			fmt.Fprintln(w, "✓ checkout reached")
		}
		return nil
	}
	fmt.Fprintf(w, "✗ %s\n", res.Reason)
	return fmt.Errorf("order %s failed at %s", res.RunID, res.FailedStage)
}
