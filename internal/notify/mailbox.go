package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrPromptOutstanding is returned when a prompt is posted while another is unanswered.
	ErrPromptOutstanding = errors.New("a selection prompt is already outstanding")
	// ErrNoPrompt is returned when a reply arrives with nothing to answer.
	ErrNoPrompt = errors.New("no selection prompt is outstanding")
)

// Prompt is the outstanding question shown to the human.
type Prompt struct {
	ID     string   `json:"id"`
	Labels []string `json:"labels"`
}

// Mailbox is a single-slot request/response exchange between an order run and
// whichever front end collects the human's answer.
type Mailbox struct {
	mu      sync.Mutex
	pending *Ticket
}

// Ticket is a posted prompt awaiting its one reply.
type Ticket struct {
	box    *Mailbox
	prompt Prompt
	reply  chan string
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox { return &Mailbox{} }

// Post registers a prompt. Render it after Post so an early reply is never lost.
func (m *Mailbox) Post(labels []string) (*Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending != nil {
		return nil, ErrPromptOutstanding
	}
	t := &Ticket{
		box:    m,
		prompt: Prompt{ID: uuid.NewString(), Labels: append([]string(nil), labels...)},
		reply:  make(chan string, 1),
	}
	m.pending = t
	return t, nil
}

// Prompt returns the question this ticket carries.
func (t *Ticket) Prompt() Prompt { return t.prompt }

// Wait blocks until the ticket is resolved or ctx ends. There is no timer.
func (t *Ticket) Wait(ctx context.Context) (string, error) {
	select {
	case answer := <-t.reply:
		return answer, nil
	case <-ctx.Done():
		t.box.release(t)
		return "", ctx.Err()
	}
}

// Ask posts labels and waits for the reply.
func (m *Mailbox) Ask(ctx context.Context, labels []string) (string, error) {
	t, err := m.Post(labels)
	if err != nil {
		return "", err
	}
	return t.Wait(ctx)
}

// Pending returns the outstanding prompt, if any.
func (m *Mailbox) Pending() (Prompt, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return Prompt{}, false
	}
	return m.pending.prompt, true
}

// Resolve answers the outstanding prompt and frees the slot.
func (m *Mailbox) Resolve(answer string) error {
	return m.resolve(answer, nil)
}

// resolve runs accepted before the waiter can observe the answer.
func (m *Mailbox) resolve(answer string, accepted func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return ErrNoPrompt
	}
	if accepted != nil {
		accepted()
	}
	m.pending.reply <- answer
	m.pending = nil
	return nil
}

func (m *Mailbox) release(t *Ticket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == t {
		m.pending = nil
	}
}
