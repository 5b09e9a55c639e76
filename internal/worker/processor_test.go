package worker

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/cartpilot/config"
	"github.com/mohammad-safakhou/cartpilot/internal/agent/core"
	"github.com/mohammad-safakhou/cartpilot/models"
)

type messageLog struct {
	texts   []string
	details [][]string
}

func (m *messageLog) SendMessage(ctx context.Context, text string, details ...string) error {
	m.texts = append(m.texts, text)
	m.details = append(m.details, details)
	return nil
}

func (m *messageLog) SendImage(ctx context.Context, data []byte, mime string) error { return nil }

func (m *messageLog) SendOptions(ctx context.Context, labels []string) (string, error) {
	return "", errors.New("no prompts expected")
}

func TestRefuseReportsOnce(t *testing.T) {
	resolve := core.Resolver(func(name string) (core.Runner, error) {
		return nil, errors.New(`unknown storefront "nowhere"`)
	})
	p := NewProcessor(log.New(io.Discard, "", 0), resolve, nil, nil, nil, config.WorkerConfig{})
	req := models.OrderRequest{ID: "run-3", Prompt: "mug", Storefront: "nowhere"}

	_, err := p.resolve(req.Storefront)
	ch := &messageLog{}
	out := p.refuse(context.Background(), ch, req, err)

	if out.Succeeded() || out.FailedStage != models.StageStarting || out.RunID != "run-3" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if len(ch.texts) != 1 {
		t.Fatalf("expected exactly one message, got %v", ch.texts)
	}
	if ch.texts[0] != out.Reason || !strings.Contains(out.Reason, " failed: ") || !strings.Contains(out.Reason, "nowhere") {
		t.Fatalf("unexpected message %q for reason %q", ch.texts[0], out.Reason)
	}
	if len(ch.details[0]) != 1 || ch.details[0][0] != "stage: starting" {
		t.Fatalf("unexpected details %v", ch.details[0])
	}
}
