package tui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mohammad-safakhou/cartpilot/internal/notify"
)

// eventMsg carries one notification into the bubbletea loop.
type eventMsg struct {
	event notify.Event
}

// promptMsg asks the human to pick one of labels.
type promptMsg struct {
	labels []string
}

// Channel is the notification channel of a TUI session. Notifications are
// forwarded to the running program; the prompt is answered by the next line
// the user submits.
type Channel struct {
	box      *notify.Mailbox
	imageDir string

	mu   sync.RWMutex
	send func(tea.Msg)
}

// NewChannel returns a channel that saves screenshots under imageDir, or only
// reports them when imageDir is empty.
func NewChannel(imageDir string) *Channel {
	return &Channel{box: notify.NewMailbox(), imageDir: imageDir}
}

// Attach routes notifications to send, usually (*tea.Program).Send.
func (c *Channel) Attach(send func(tea.Msg)) {
	c.mu.Lock()
	c.send = send
	c.mu.Unlock()
}

func (c *Channel) emit(msg tea.Msg) {
	c.mu.RLock()
	send := c.send
	c.mu.RUnlock()
	if send != nil {
		send(msg)
	}
}

func (c *Channel) SendMessage(ctx context.Context, text string, details ...string) error {
	c.emit(eventMsg{event: notify.Event{Kind: notify.EventMessage, Text: text, Details: details, At: time.Now()}})
	return nil
}

func (c *Channel) SendImage(ctx context.Context, data []byte, mime string) error {
	ev := notify.Event{Kind: notify.EventImage, MIME: mime, Size: len(data), At: time.Now()}
	if c.imageDir != "" {
		path := filepath.Join(c.imageDir, fmt.Sprintf("checkout-%s%s", time.Now().UTC().Format("20060102T150405"), notify.Extension(mime)))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write screenshot: %w", err)
		}
		ev.Text = path
	}
	c.emit(eventMsg{event: ev})
	return nil
}

func (c *Channel) SendOptions(ctx context.Context, labels []string) (string, error) {
	ticket, err := c.box.Post(labels)
	if err != nil {
		return "", err
	}
	c.emit(promptMsg{labels: append([]string(nil), labels...)})
	return ticket.Wait(ctx)
}

// Reply answers the outstanding prompt.
func (c *Channel) Reply(answer string) error { return c.box.Resolve(answer) }

// Pending reports whether a prompt is waiting for an answer.
func (c *Channel) Pending() bool {
	_, ok := c.box.Pending()
	return ok
}
