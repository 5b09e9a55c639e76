package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/cartpilot/internal/agent/telemetry"
	"github.com/mohammad-safakhou/cartpilot/internal/notify"
	"github.com/mohammad-safakhou/cartpilot/internal/supervisor"
	"github.com/mohammad-safakhou/cartpilot/models"
	"github.com/mohammad-safakhou/cartpilot/tools/storefront"
	"github.com/mohammad-safakhou/cartpilot/tools/storefront/profile"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var orchestratorTracer trace.Tracer = otel.Tracer("cartpilot/internal/agent/orchestrator")

// Orchestrator runs the order pipeline against one storefront automation.
// It holds no per-run state; every Run owns its own session and choice.
type Orchestrator struct {
	llm        LLMProvider
	automation storefront.Automation
	logger     *log.Logger
	telemetry  *telemetry.Telemetry
	journal    Journal
	retry      []supervisor.Option
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithJournal persists every outcome.
func WithJournal(j Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithTelemetry records run metrics.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(o *Orchestrator) { o.telemetry = t }
}

// WithLogger overrides the default discard logger.
func WithLogger(l *log.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRetry passes options to the per-run retry supervisor.
func WithRetry(opts ...supervisor.Option) Option {
	return func(o *Orchestrator) { o.retry = append(o.retry, opts...) }
}

// NewOrchestrator creates a new orchestrator instance
func NewOrchestrator(llm LLMProvider, automation storefront.Automation, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		llm:        llm,
		automation: automation,
		logger:     log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run is the state of one order request. Only the goroutine executing Run
// touches it.
type run struct {
	o       *Orchestrator
	req     models.OrderRequest
	ch      notify.Channel
	sup     *supervisor.Supervisor
	session storefront.Session
	profile profile.Profile

	query      string
	resultsURL string
	candidates []models.Candidate
	ranked     models.RankedSelection
	labels     []string
	chosen     *models.ChosenItem
	shot       models.Artifact
	prompts    int
	recoveries int
	stage      models.Stage
}

// Run executes one order request end to end and returns its outcome. The
// storefront session is released on every exit path.
func (o *Orchestrator) Run(ctx context.Context, req models.OrderRequest, ch notify.Channel) models.OrderOutcome {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	started := time.Now().UTC()

	ctx, span := orchestratorTracer.Start(ctx, "order.run",
		trace.WithAttributes(
			attribute.String("order.id", req.ID),
			attribute.String("user.id", req.UserID),
			attribute.String("storefront", o.automation.Profile().Name),
		))
	defer span.End()

	opts := append([]supervisor.Option{
		supervisor.WithMetrics(o.telemetry.SupervisorMetrics()),
		supervisor.WithLogger(o.logger),
	}, o.retry...)
	r := &run{
		o:       o,
		req:     req,
		ch:      ch,
		sup:     supervisor.New(ch, opts...),
		profile: o.automation.Profile(),
	}

	err := r.execute(ctx)
	outcome := r.outcome(started, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "confirmed")
	}
	o.finish(ctx, outcome)
	return outcome
}

func (r *run) execute(ctx context.Context) (err error) {
	if err := r.step(ctx, models.StageStarting, opSession, r.acquire); err != nil {
		return r.fail(ctx, err)
	}
	defer func() {
		if cerr := r.session.Close(); cerr != nil {
			r.o.logger.Printf("warn: close storefront session for %s: %v", r.req.ID, cerr)
		}
	}()

	steps := []struct {
		stage models.Stage
		op    string
		fn    func(context.Context) error
	}{
		{models.StagePlanning, opPlan, r.plan},
		{models.StageSearching, opSearch, r.search},
		{models.StageExtracting, opExtract, r.extract},
		{models.StageRanking, opRank, r.rank},
		{models.StageLabeling, opLabels, r.toReadableLabels},
		{models.StageAwaitingChoice, opChoice, r.choose},
		{models.StageNavigating, opOpen, r.open},
	}
	for _, s := range steps {
		if err := r.step(ctx, s.stage, s.op, s.fn); err != nil {
			return r.fail(ctx, err)
		}
	}
	if err := r.checkoutWithRecovery(ctx); err != nil {
		return r.fail(ctx, err)
	}
	r.stage = models.StageConfirmed
	r.confirm(ctx)
	return nil
}

// step runs one stage. Cancellation is checked at the boundary and every
// error leaves as a StageError.
func (r *run) step(ctx context.Context, stage models.Stage, op string, fn func(context.Context) error) error {
	r.stage = stage
	if err := ctx.Err(); err != nil {
		return &StageError{Stage: stage, Operation: op, Err: err}
	}
	ctx, span := orchestratorTracer.Start(ctx, "order."+string(stage))
	defer span.End()
	started := time.Now()
	err := fn(ctx)
	r.o.telemetry.RecordStage(stage, time.Since(started))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var se *StageError
		if errors.As(err, &se) {
			return se
		}
		return &StageError{Stage: stage, Operation: op, Err: err}
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (r *run) acquire(ctx context.Context) error {
	s, err := supervisor.Execute(ctx, r.sup, opSession, r.o.automation.Open)
	if err != nil {
		return err
	}
	r.session = s
	return nil
}

// fail emits the single terminal message for the run.
func (r *run) fail(ctx context.Context, err error) error {
	var se *StageError
	if !errors.As(err, &se) {
		se = &StageError{Stage: r.stage, Operation: string(r.stage), Err: err}
	}
	details := []string{fmt.Sprintf("stage: %s", se.Stage)}
	var ex *supervisor.ExhaustedError
	if errors.As(se.Err, &ex) {
		details = append(details, fmt.Sprintf("attempts: %d", ex.Attempts))
	}
	r.say(context.WithoutCancel(ctx), se.Error(), details...)
	r.o.logger.Printf("order %s failed at %s: %v", r.req.ID, se.Stage, se.Err)
	return se
}

func (r *run) confirm(ctx context.Context) {
	c := r.chosen.Candidate
	r.say(ctx, fmt.Sprintf("Checkout is ready for %s. Please review and confirm payment yourself.", c.Title), c.Link)
	if err := r.ch.SendImage(ctx, r.shot.Data, r.shot.MIME); err != nil {
		r.o.logger.Printf("warn: send screenshot for %s: %v", r.req.ID, err)
	}
}

// say is fire-and-forget: delivery failures are logged only.
func (r *run) say(ctx context.Context, text string, details ...string) {
	if r.ch == nil {
		return
	}
	if err := r.ch.SendMessage(ctx, text, details...); err != nil {
		r.o.logger.Printf("warn: notify %s: %v", r.req.ID, err)
	}
}

func (r *run) outcome(started time.Time, err error) models.OrderOutcome {
	out := models.OrderOutcome{
		RunID:      r.req.ID,
		Prompt:     r.req.Prompt,
		UserID:     r.req.UserID,
		Query:      r.query,
		Chosen:     r.chosen,
		Recoveries: r.recoveries,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}
	if err == nil {
		out.Status = models.OrderSucceeded
		out.Screenshot = r.shot.Data
		out.ScreenshotMIME = r.shot.MIME
		return out
	}
	out.Status = models.OrderFailed
	out.FailedStage = r.stage
	var se *StageError
	if errors.As(err, &se) {
		out.FailedStage = se.Stage
	}
	out.Reason = err.Error()
	return out
}

func (o *Orchestrator) finish(ctx context.Context, outcome models.OrderOutcome) {
	o.telemetry.RecordRun(ctx, telemetry.RunEvent{
		ID:          outcome.RunID,
		Prompt:      outcome.Prompt,
		StartTime:   outcome.StartedAt,
		EndTime:     outcome.FinishedAt,
		Success:     outcome.Succeeded(),
		FailedStage: outcome.FailedStage,
		Reason:      outcome.Reason,
		Recoveries:  outcome.Recoveries,
	})
	if o.journal == nil {
		return
	}
	if err := o.journal.SaveOutcome(context.WithoutCancel(ctx), outcome); err != nil {
		o.logger.Printf("warn: journal outcome %s: %v", outcome.RunID, err)
	}
}

func (r *run) warn(ctx context.Context, stage models.Stage, text string) {
	r.o.telemetry.RecordFallback(stage)
	r.o.logger.Printf("warn: order %s: %s", r.req.ID, text)
	r.say(ctx, text)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
