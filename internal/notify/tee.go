package notify

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// Sink receives the fire-and-forget half of a channel.
type Sink interface {
	SendMessage(ctx context.Context, text string, details ...string) error
	SendImage(ctx context.Context, data []byte, mime string) error
}

// Tee forwards everything to a primary channel and mirrors messages and
// images to extra sinks. Only the primary answers prompts; sinks see the
// prompt as a message.
type Tee struct {
	primary Channel
	sinks   []Sink
	logger  *log.Logger
}

// NewTee wraps primary. Sink failures are logged to logger and otherwise ignored.
func NewTee(primary Channel, logger *log.Logger, sinks ...Sink) *Tee {
	if logger == nil {
		logger = log.New(log.Writer(), "[NOTIFY] ", log.LstdFlags)
	}
	return &Tee{primary: primary, sinks: sinks, logger: logger}
}

func (t *Tee) SendMessage(ctx context.Context, text string, details ...string) error {
	err := t.primary.SendMessage(ctx, text, details...)
	for _, s := range t.sinks {
		if serr := s.SendMessage(ctx, text, details...); serr != nil {
			t.logger.Printf("warn: mirror message failed: %v", serr)
		}
	}
	return err
}

func (t *Tee) SendImage(ctx context.Context, data []byte, mime string) error {
	err := t.primary.SendImage(ctx, data, mime)
	for _, s := range t.sinks {
		if serr := s.SendImage(ctx, data, mime); serr != nil {
			t.logger.Printf("warn: mirror image failed: %v", serr)
		}
	}
	return err
}

func (t *Tee) SendOptions(ctx context.Context, labels []string) (string, error) {
	for _, s := range t.sinks {
		if serr := s.SendMessage(ctx, "Awaiting choice", numbered(labels)...); serr != nil {
			t.logger.Printf("warn: mirror prompt failed: %v", serr)
		}
	}
	return t.primary.SendOptions(ctx, labels)
}

// LogSink writes notifications for one run to a logger.
type LogSink struct {
	RunID  string
	Logger *log.Logger
}

func (l LogSink) SendMessage(ctx context.Context, text string, details ...string) error {
	if len(details) == 0 {
		l.Logger.Printf("run %s: %s", l.RunID, text)
		return nil
	}
	l.Logger.Printf("run %s: %s (%s)", l.RunID, text, strings.Join(details, "; "))
	return nil
}

func (l LogSink) SendImage(ctx context.Context, data []byte, mime string) error {
	l.Logger.Printf("run %s: image %s, %d bytes", l.RunID, mime, len(data))
	return nil
}

func numbered(labels []string) []string {
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = fmt.Sprintf("%d. %s", i+1, l)
	}
	return out
}
