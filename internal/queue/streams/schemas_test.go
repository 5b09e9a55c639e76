package streams

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mohammad-safakhou/cartpilot/internal/notify"
	"github.com/mohammad-safakhou/cartpilot/models"
	"github.com/redis/go-redis/v9"
)

func TestOrderSchemasValidate(t *testing.T) {
	reg, err := NewOrderRegistry()
	if err != nil {
		t.Fatalf("NewOrderRegistry: %v", err)
	}

	req, _ := json.Marshal(models.OrderRequest{ID: "run-1", Prompt: "white t-shirt", RequestedAt: time.Now().UTC()})
	if err := reg.Validate(EventOrderRequested, PayloadV1, req); err != nil {
		t.Fatalf("expected order request to validate: %v", err)
	}

	ev, _ := json.Marshal(notify.Event{RunID: "run-1", Kind: notify.EventOptions, Labels: []string{"a", "b"}, At: time.Now().UTC()})
	if err := reg.Validate(EventOrderNotification, PayloadV1, ev); err != nil {
		t.Fatalf("expected options event to validate: %v", err)
	}

	out, _ := json.Marshal(NewOutcomePayload(models.OrderOutcome{
		RunID:  "run-1",
		Status: models.OrderSucceeded,
		Chosen: &models.ChosenItem{Index: 2, Candidate: models.Candidate{Title: "Tee", Link: "https://shop.test/p/1"}},
	}))
	if err := reg.Validate(EventOrderOutcome, PayloadV1, out); err != nil {
		t.Fatalf("expected outcome to validate: %v", err)
	}
}

func TestOrderSchemasReject(t *testing.T) {
	reg, err := NewOrderRegistry()
	if err != nil {
		t.Fatalf("NewOrderRegistry: %v", err)
	}
	cases := []struct {
		name      string
		eventType string
		payload   string
	}{
		{"empty prompt", EventOrderRequested, `{"id":"run-1","prompt":""}`},
		{"missing id", EventOrderRequested, `{"prompt":"tee"}`},
		{"unknown kind", EventOrderNotification, `{"run_id":"run-1","kind":"shout","at":"2024-01-01T00:00:00Z"}`},
		{"too many labels", EventOrderNotification, `{"run_id":"run-1","kind":"options","labels":["1","2","3","4","5","6"],"at":"2024-01-01T00:00:00Z"}`},
		{"second recovery", EventOrderOutcome, `{"run_id":"run-1","status":"failure","recoveries":2}`},
		{"index out of range", EventOrderOutcome, `{"run_id":"run-1","status":"success","recoveries":0,"chosen":{"index":6,"candidate":{"title":"t","link":"l"}}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := reg.Validate(tc.eventType, PayloadV1, []byte(tc.payload)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
	if err := reg.Validate("order.unknown", PayloadV1, []byte(`{}`)); err == nil {
		t.Fatalf("expected error for unregistered event type")
	}
}

func TestDecodeOrder(t *testing.T) {
	data, _ := json.Marshal(models.OrderRequest{ID: "run-7", Prompt: "socks", UserID: "u1"})
	req, err := DecodeOrder(Envelope{EventID: "e1", EventType: EventOrderRequested, Version: PayloadV1, Data: data})
	if err != nil {
		t.Fatalf("DecodeOrder: %v", err)
	}
	if req.ID != "run-7" || req.Prompt != "socks" || req.UserID != "u1" {
		t.Fatalf("unexpected request %+v", req)
	}
	if _, err := DecodeOrder(Envelope{EventType: EventOrderOutcome, Data: data}); err == nil {
		t.Fatalf("expected error for wrong event type")
	}
}

func TestEnvelopeRoundTripKeepsRunID(t *testing.T) {
	env := Envelope{EventID: "e1", EventType: EventOrderNotification, RunID: "run-1", Version: PayloadV1, Data: json.RawMessage(`{"kind":"message"}`)}
	raw, err := env.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := UnmarshalEnvelope(raw)
	if err != nil {
		t.Fatalf("UnmarshalEnvelope: %v", err)
	}
	if got.RunID != "run-1" || got.OccurredAt.IsZero() {
		t.Fatalf("unexpected envelope %+v", got)
	}
	if _, err := UnmarshalEnvelope([]byte(`{"event_type":"x"}`)); err == nil {
		t.Fatalf("expected error for envelope without id")
	}
}

func TestReplyKey(t *testing.T) {
	if got := ReplyKey(" run-1 "); got != "cartpilot:reply:run-1" {
		t.Fatalf("unexpected reply key %q", got)
	}
}

func TestNewEnvelopeStampsRun(t *testing.T) {
	env, err := newEnvelope(context.Background(), EventOrderOutcome, "run-9", map[string]int{"recoveries": 0})
	if err != nil {
		t.Fatalf("newEnvelope: %v", err)
	}
	if env.EventID == "" || env.RunID != "run-9" || env.Version != PayloadV1 || env.OccurredAt.IsZero() {
		t.Fatalf("unexpected envelope %+v", env)
	}
	var got map[string]int
	if err := env.Decode(&got); err != nil || got["recoveries"] != 0 {
		t.Fatalf("Decode = %v, %v", got, err)
	}
	if _, err := (Envelope{EventID: "e1", EventType: EventOrderOutcome, Version: PayloadV1, Data: env.Data}).Marshal(); err == nil {
		t.Fatalf("expected error for envelope without run id")
	}
}

func TestFromEntry(t *testing.T) {
	env, _ := newEnvelope(context.Background(), EventOrderRequested, "run-1", models.OrderRequest{ID: "run-1", Prompt: "tee"})
	raw, _ := env.Marshal()

	got, err := fromEntry(redis.XMessage{ID: "1-0", Values: map[string]interface{}{"envelope": string(raw)}})
	if err != nil || got.EventID != env.EventID {
		t.Fatalf("fromEntry = %+v, %v", got, err)
	}
	if _, err := fromEntry(redis.XMessage{ID: "2-0", Values: map[string]interface{}{"other": "x"}}); err == nil {
		t.Fatalf("expected error for entry without envelope")
	}
	if _, err := fromEntry(redis.XMessage{ID: "3-0", Values: map[string]interface{}{"envelope": "{"}}); err == nil {
		t.Fatalf("expected error for malformed envelope")
	}
}

func TestBacklogString(t *testing.T) {
	b := Backlog{Pending: 2, Lag: 5, Consumers: 1, OldestIdle: 3 * time.Second}
	if got := b.String(); got != "pending=2 lag=5 consumers=1 oldest_idle=3s" {
		t.Fatalf("unexpected backlog %q", got)
	}
}
