package notify

import (
	"context"
	"time"
)

// Channel is the duplex UI-facing surface an order run talks through.
// SendMessage and SendImage are fire-and-forget from the caller's point of
// view; SendOptions suspends until the human answers or ctx ends.
type Channel interface {
	SendMessage(ctx context.Context, text string, details ...string) error
	SendImage(ctx context.Context, data []byte, mime string) error
	SendOptions(ctx context.Context, labels []string) (string, error)
}

// EventKind classifies a recorded notification.
type EventKind string

const (
	EventMessage EventKind = "message"
	EventImage   EventKind = "image"
	EventOptions EventKind = "options"
	EventReply   EventKind = "reply"
)

// Event is the transport-neutral form of one notification.
type Event struct {
	RunID   string    `json:"run_id,omitempty"`
	Kind    EventKind `json:"kind"`
	Text    string    `json:"text,omitempty"`
	Details []string  `json:"details,omitempty"`
	Labels  []string  `json:"labels,omitempty"`
	MIME    string    `json:"mime,omitempty"`
	Size    int       `json:"size,omitempty"`
	Data    []byte    `json:"data,omitempty"`
	At      time.Time `json:"at"`
}
