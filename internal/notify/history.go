package notify

import (
	"context"
	"sync"
	"time"
)

// History is an in-memory channel for one run. Front ends poll Events and
// answer through Reply.
type History struct {
	runID string
	box   *Mailbox

	mu         sync.RWMutex
	events     []Event
	image      []byte
	imageMIME  string
	subscriber func(Event)
}

// NewHistory creates a recording channel for runID.
func NewHistory(runID string) *History {
	return &History{runID: runID, box: NewMailbox()}
}

// OnEvent registers a callback invoked after every recorded event.
func (h *History) OnEvent(fn func(Event)) {
	h.mu.Lock()
	h.subscriber = fn
	h.mu.Unlock()
}

func (h *History) record(ev Event) {
	ev.RunID = h.runID
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	h.mu.Lock()
	h.events = append(h.events, ev)
	sub := h.subscriber
	h.mu.Unlock()
	if sub != nil {
		sub(ev)
	}
}

func (h *History) SendMessage(ctx context.Context, text string, details ...string) error {
	h.record(Event{Kind: EventMessage, Text: text, Details: append([]string(nil), details...)})
	return nil
}

func (h *History) SendImage(ctx context.Context, data []byte, mime string) error {
	h.mu.Lock()
	h.image = append([]byte(nil), data...)
	h.imageMIME = mime
	h.mu.Unlock()
	h.record(Event{Kind: EventImage, MIME: mime, Size: len(data)})
	return nil
}

func (h *History) SendOptions(ctx context.Context, labels []string) (string, error) {
	ticket, err := h.box.Post(labels)
	if err != nil {
		return "", err
	}
	h.record(Event{Kind: EventOptions, Labels: append([]string(nil), labels...)})
	return ticket.Wait(ctx)
}

// Reply resolves the outstanding prompt.
func (h *History) Reply(answer string) error {
	return h.box.resolve(answer, func() {
		h.record(Event{Kind: EventReply, Text: answer})
	})
}

// Pending exposes the outstanding prompt.
func (h *History) Pending() (Prompt, bool) { return h.box.Pending() }

// Events returns a copy of everything recorded so far.
func (h *History) Events() []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Event, len(h.events))
	copy(out, h.events)
	return out
}

// Image returns the last image sent, if any.
func (h *History) Image() ([]byte, string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.image == nil {
		return nil, "", false
	}
	return h.image, h.imageMIME, true
}
