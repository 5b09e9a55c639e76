package streams

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

// envelopeField is the single field each stream entry carries.
const envelopeField = "envelope"

// Envelope wraps every payload written to the order streams. Each envelope
// belongs to exactly one run.
type Envelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	RunID      string          `json:"run_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	TraceID    string          `json:"trace_id,omitempty"`
	Version    string          `json:"payload_version"`
	Data       json.RawMessage `json:"data"`
}

// newEnvelope encodes payload for runID, stamping id, time and the trace of ctx.
func newEnvelope(ctx context.Context, eventType, runID string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	env := Envelope{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		RunID:      runID,
		OccurredAt: time.Now().UTC(),
		Version:    PayloadV1,
		Data:       data,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	return env, nil
}

func (e Envelope) check() error {
	switch {
	case e.EventID == "":
		return errors.New("envelope: event_id is required")
	case e.EventType == "":
		return errors.New("envelope: event_type is required")
	case e.RunID == "":
		return errors.New("envelope: run_id is required")
	case e.Version == "":
		return errors.New("envelope: payload_version is required")
	case len(e.Data) == 0:
		return errors.New("envelope: data is required")
	}
	return nil
}

// Marshal checks the envelope and encodes it for XADD.
func (e Envelope) Marshal() ([]byte, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	return json.Marshal(e)
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.EventType, err)
	}
	return nil
}

// UnmarshalEnvelope parses one stored envelope.
func UnmarshalEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return env, env.check()
}

// fromEntry reads the envelope out of a raw stream entry.
func fromEntry(msg redis.XMessage) (Envelope, error) {
	switch raw := msg.Values[envelopeField].(type) {
	case string:
		return UnmarshalEnvelope([]byte(raw))
	case []byte:
		return UnmarshalEnvelope(raw)
	case nil:
		return Envelope{}, fmt.Errorf("entry %s has no envelope", msg.ID)
	default:
		return Envelope{}, fmt.Errorf("entry %s: unexpected envelope type %T", msg.ID, raw)
	}
}
