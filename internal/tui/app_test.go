package tui

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mohammad-safakhou/cartpilot/internal/notify"
	"github.com/mohammad-safakhou/cartpilot/models"
)

// stubRunner reports progress and finishes without asking.
type stubRunner struct {
	reqs []models.OrderRequest
	out  models.OrderOutcome
}

func (s *stubRunner) Run(ctx context.Context, req models.OrderRequest, ch notify.Channel) models.OrderOutcome {
	s.reqs = append(s.reqs, req)
	_ = ch.SendMessage(ctx, "Searching", "query: "+req.Prompt)
	out := s.out
	out.RunID = req.ID
	return out
}

type recorder struct {
	msgs chan tea.Msg
}

func newRecorder() *recorder { return &recorder{msgs: make(chan tea.Msg, 16)} }

func (r *recorder) send(msg tea.Msg) { r.msgs <- msg }

func (r *recorder) next(t *testing.T) tea.Msg {
	t.Helper()
	select {
	case msg := <-r.msgs:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("no message emitted")
		return nil
	}
}

func typeLine(t *testing.T, app *App, text string) tea.Cmd {
	t.Helper()
	app.input.SetValue(text)
	_, cmd := app.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return cmd
}

func transcript(app *App) string { return strings.Join(app.lines, "\n") }

func TestSubmitRunsOrder(t *testing.T) {
	rec := newRecorder()
	ch := NewChannel("")
	ch.Attach(rec.send)
	runner := &stubRunner{out: models.OrderOutcome{
		Status: models.OrderSucceeded,
		Chosen: &models.ChosenItem{Index: 1, Candidate: models.Candidate{Title: "White Tee", Link: "https://shop.test/p/1"}},
	}}
	app := NewApp(runner, ch, WithUser("user-7"))

	if cmd := typeLine(t, app, "   "); cmd != nil {
		t.Fatalf("blank input must not start an order")
	}
	cmd := typeLine(t, app, "white tee")
	if cmd == nil || app.state != stateRunning {
		t.Fatalf("expected a running order, state=%v", app.state)
	}
	if app.input.Value() != "" {
		t.Fatalf("input should be cleared after submit")
	}

	// the order runs outside the update loop; call it directly
	res := runner.Run(context.Background(), models.OrderRequest{ID: "r1", Prompt: "white tee", UserID: "user-7"}, ch)
	app.Update(rec.next(t))
	app.Update(outcomeMsg{outcome: res})

	if app.state != stateIdle {
		t.Fatalf("expected idle after outcome, got %v", app.state)
	}
	got := transcript(app)
	for _, want := range []string{"you:", "white tee", "Searching", "query: white tee", "checkout reached for White Tee"} {
		if !strings.Contains(got, want) {
			t.Fatalf("transcript missing %q:\n%s", want, got)
		}
	}
	if o, ok := app.Outcome(); !ok || o.RunID != "r1" {
		t.Fatalf("unexpected last outcome %+v", o)
	}
}

func TestRunCommandCarriesUser(t *testing.T) {
	ch := NewChannel("")
	runner := &stubRunner{out: models.OrderOutcome{Status: models.OrderFailed, Reason: "Search failed: timeout"}}
	app := NewApp(runner, ch, WithUser("user-7"))

	msg := app.start("socks")()
	// tea.Batch wraps the commands; run them until the outcome shows up
	batch, ok := msg.(tea.BatchMsg)
	if !ok {
		t.Fatalf("expected batch, got %T", msg)
	}
	var outcome *outcomeMsg
	for _, c := range batch {
		if c == nil {
			continue
		}
		if om, ok := c().(outcomeMsg); ok {
			outcome = &om
			break
		}
	}
	if outcome == nil {
		t.Fatalf("no outcome produced")
	}
	if len(runner.reqs) != 1 || runner.reqs[0].UserID != "user-7" || runner.reqs[0].Prompt != "socks" || runner.reqs[0].ID == "" {
		t.Fatalf("unexpected request %+v", runner.reqs)
	}
	app.Update(*outcome)
	if !strings.Contains(transcript(app), "✗ Search failed: timeout") {
		t.Fatalf("failure not shown:\n%s", transcript(app))
	}
}

func TestPromptAnsweredByNextSubmission(t *testing.T) {
	rec := newRecorder()
	ch := NewChannel("")
	ch.Attach(rec.send)
	app := NewApp(&stubRunner{}, ch)
	app.state = stateRunning

	type result struct {
		answer string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		answer, err := ch.SendOptions(context.Background(), []string{"Plain tee", "V-neck tee"})
		done <- result{answer, err}
	}()

	app.Update(rec.next(t))
	if app.state != stateChoosing {
		t.Fatalf("expected choosing state, got %v", app.state)
	}
	if !strings.Contains(transcript(app), "2. V-neck tee") {
		t.Fatalf("options not listed:\n%s", transcript(app))
	}
	if _, err := ch.SendOptions(context.Background(), []string{"x"}); !errors.Is(err, notify.ErrPromptOutstanding) {
		t.Fatalf("expected ErrPromptOutstanding, got %v", err)
	}

	if cmd := typeLine(t, app, "the second one"); cmd == nil {
		t.Fatalf("expected spinner command after answering")
	}
	res := <-done
	if res.err != nil || res.answer != "the second one" {
		t.Fatalf("SendOptions = %q, %v", res.answer, res.err)
	}
	if app.state != stateRunning || ch.Pending() {
		t.Fatalf("prompt should be consumed")
	}
}

func TestInputWhileRunningIsNotAnAnswer(t *testing.T) {
	ch := NewChannel("")
	app := NewApp(&stubRunner{}, ch)
	app.state = stateRunning
	typeLine(t, app, "hello?")
	if !strings.Contains(transcript(app), "still working") {
		t.Fatalf("expected a hint:\n%s", transcript(app))
	}
	if err := ch.Reply("1"); !errors.Is(err, notify.ErrNoPrompt) {
		t.Fatalf("expected ErrNoPrompt, got %v", err)
	}
}

func TestEscCancelsRun(t *testing.T) {
	app := NewApp(&stubRunner{}, NewChannel(""))
	ctx, cancel := context.WithCancel(context.Background())
	app.cancel = cancel
	app.state = stateRunning

	app.Update(tea.KeyMsg{Type: tea.KeyEsc})
	select {
	case <-ctx.Done():
	default:
		t.Fatalf("esc should cancel the run context")
	}
	_, cmd := app.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatalf("ctrl+c should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("expected quit message")
	}
}

func TestSendImageSavesScreenshot(t *testing.T) {
	rec := newRecorder()
	dir := t.TempDir()
	ch := NewChannel(dir)
	ch.Attach(rec.send)
	if err := ch.SendImage(context.Background(), []byte("png-bytes"), "image/png"); err != nil {
		t.Fatalf("SendImage: %v", err)
	}
	ev := rec.next(t).(eventMsg).event
	if filepath.Dir(ev.Text) != dir || filepath.Ext(ev.Text) != ".png" {
		t.Fatalf("unexpected path %q", ev.Text)
	}
	data, err := os.ReadFile(ev.Text)
	if err != nil || string(data) != "png-bytes" {
		t.Fatalf("screenshot not written: %v", err)
	}

	app := NewApp(&stubRunner{}, ch)
	app.Update(eventMsg{event: ev})
	if !strings.Contains(transcript(app), "Screenshot saved") {
		t.Fatalf("image not rendered:\n%s", transcript(app))
	}
}

func TestWindowResize(t *testing.T) {
	app := NewApp(&stubRunner{}, NewChannel(""))
	app.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	if app.history.Width != 98 || app.history.Height != 24 {
		t.Fatalf("viewport not resized: %dx%d", app.history.Width, app.history.Height)
	}
	if !strings.Contains(app.View(), "cartpilot") {
		t.Fatalf("view missing banner")
	}
}
