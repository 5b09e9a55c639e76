// Package tui is the interactive terminal front end. The user types an order,
// follows the run as a conversation and answers the selection prompt in the
// same input line.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/mohammad-safakhou/cartpilot/internal/agent/core"
	"github.com/mohammad-safakhou/cartpilot/internal/notify"
	"github.com/mohammad-safakhou/cartpilot/models"
)

type appState int

const (
	stateIdle     appState = iota // waiting for an order prompt
	stateRunning                  // order in progress
	stateChoosing                 // selection prompt outstanding
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	agentStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0")).PaddingLeft(4)
	userStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	optionStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).PaddingLeft(2)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	hintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444"))
)

// outcomeMsg ends a run.
type outcomeMsg struct {
	outcome models.OrderOutcome
}

// App is the bubbletea model of a chat session.
type App struct {
	runner core.Runner
	ch     *Channel
	userID string

	state  appState
	cancel context.CancelFunc
	lines  []string
	last   *models.OrderOutcome

	input   textinput.Model
	history viewport.Model
	spin    spinner.Model
	width   int
	height  int
}

// AppOption customizes an App.
type AppOption func(*App)

// WithUser tags every order with userID.
func WithUser(userID string) AppOption {
	return func(a *App) { a.userID = userID }
}

// NewApp builds a session that runs orders with runner and talks through ch.
func NewApp(runner core.Runner, ch *Channel, opts ...AppOption) *App {
	in := textinput.New()
	in.Placeholder = "What would you like to buy?"
	in.Prompt = "› "
	in.CharLimit = 500
	in.Focus()

	a := &App{
		runner:  runner,
		ch:      ch,
		input:   in,
		history: viewport.New(80, 20),
		spin:    spinner.New(spinner.WithSpinner(spinner.Dot)),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.say(titleStyle.Render("cartpilot") + agentStyle.Render(" · describe what you want and I'll find it"))
	return a
}

// Run starts the program and blocks until the user quits.
func Run(ctx context.Context, runner core.Runner, ch *Channel, opts ...AppOption) error {
	app := NewApp(runner, ch, opts...)
	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx))
	ch.Attach(p.Send)
	_, err := p.Run()
	app.stop()
	return err
}

func (a *App) Init() tea.Cmd {
	return textinput.Blink
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width, a.height = msg.Width, msg.Height
		a.history.Width = max(20, msg.Width-2)
		a.history.Height = max(5, msg.Height-6)
		a.input.Width = max(10, msg.Width-6)
		a.refresh()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			a.stop()
			return a, tea.Quit
		case tea.KeyEsc:
			if a.state != stateIdle && a.cancel != nil {
				a.cancel()
				a.say(hintStyle.Render("cancelling…"))
			}
			return a, nil
		case tea.KeyEnter:
			return a, a.submit()
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			a.history, cmd = a.history.Update(msg)
			return a, cmd
		}

	case eventMsg:
		a.render(msg.event)

	case promptMsg:
		a.state = stateChoosing
		a.say(agentStyle.Render("Which one would you like?"))
		for i, l := range msg.labels {
			a.say(optionStyle.Render(fmt.Sprintf("%d. %s", i+1, l)))
		}
		a.input.Placeholder = "Pick one, e.g. \"the second\""

	case outcomeMsg:
		a.finish(msg.outcome)

	case spinner.TickMsg:
		if a.state == stateRunning {
			var cmd tea.Cmd
			a.spin, cmd = a.spin.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)
	if _, isKey := msg.(tea.KeyMsg); !isKey {
		a.history, cmd = a.history.Update(msg)
		cmds = append(cmds, cmd)
	}
	return a, tea.Batch(cmds...)
}

// submit handles the entered line: a new order when idle, the answer when a
// prompt is outstanding.
func (a *App) submit() tea.Cmd {
	text := strings.TrimSpace(a.input.Value())
	if text == "" {
		return nil
	}
	switch a.state {
	case stateIdle:
		a.input.Reset()
		a.say(userStyle.Render("you: ") + text)
		return a.start(text)
	case stateChoosing:
		if err := a.ch.Reply(text); err != nil {
			a.say(failureStyle.Render(err.Error()))
			return nil
		}
		a.input.Reset()
		a.say(userStyle.Render("you: ") + text)
		a.state = stateRunning
		a.input.Placeholder = ""
		return a.spin.Tick
	default:
		a.say(hintStyle.Render("still working on your order; esc cancels"))
		return nil
	}
}

func (a *App) start(prompt string) tea.Cmd {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.state = stateRunning
	a.input.Placeholder = ""
	req := models.OrderRequest{ID: uuid.NewString(), Prompt: prompt, UserID: a.userID}
	runner, ch := a.runner, a.ch
	run := func() tea.Msg {
		return outcomeMsg{outcome: runner.Run(ctx, req, ch)}
	}
	return tea.Batch(run, a.spin.Tick)
}

func (a *App) finish(out models.OrderOutcome) {
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.last = &out
	a.state = stateIdle
	a.input.Placeholder = "Anything else?"
	if out.Succeeded() && out.Chosen != nil {
		a.say(successStyle.Render("✓ checkout reached for " + out.Chosen.Candidate.Title))
		return
	}
	if out.Succeeded() {
		a.say(successStyle.Render("✓ checkout reached"))
		return
	}
	a.say(failureStyle.Render("✗ " + out.Reason))
}

func (a *App) stop() {
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
}

func (a *App) render(ev notify.Event) {
	switch ev.Kind {
	case notify.EventImage:
		if ev.Text != "" {
			a.say(agentStyle.Render("Screenshot saved"))
			a.say(detailStyle.Render(ev.Text))
			return
		}
		a.say(agentStyle.Render(fmt.Sprintf("Screenshot captured (%d bytes)", ev.Size)))
	default:
		a.say(agentStyle.Render(ev.Text))
		for _, d := range ev.Details {
			a.say(detailStyle.Render(d))
		}
	}
}

func (a *App) say(line string) {
	a.lines = append(a.lines, line)
	a.refresh()
}

func (a *App) refresh() {
	a.history.SetContent(strings.Join(a.lines, "\n"))
	a.history.GotoBottom()
}

func (a *App) View() string {
	status := hintStyle.Render("enter sends · ctrl+c quits")
	switch a.state {
	case stateRunning:
		status = a.spin.View() + hintStyle.Render(" working · esc cancels")
	case stateChoosing:
		status = hintStyle.Render("answer in your own words · esc cancels")
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		boxStyle.Render(a.history.View()),
		a.input.View(),
		status,
	)
}

// Outcome returns the outcome of the last finished order.
func (a *App) Outcome() (models.OrderOutcome, bool) {
	if a.last == nil {
		return models.OrderOutcome{}, false
	}
	return *a.last, true
}
