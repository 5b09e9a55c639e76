package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/cartpilot/internal/supervisor"
	"github.com/mohammad-safakhou/cartpilot/models"
)

// LLMProvider is the completion capability the pipeline consumes.
type LLMProvider interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Forgetter is implemented by completion caches.
type Forgetter interface {
	Forget(prompt string)
}

// ask sends prompt and hands the reply to accept. A rejected reply is
// forgotten by a caching provider so a retry asks the service again.
func ask[T any](ctx context.Context, llm LLMProvider, prompt string, accept func(string) (T, error)) (T, error) {
	out, err := llm.Complete(ctx, prompt)
	if err != nil {
		var zero T
		return zero, err
	}
	v, err := accept(out)
	if err != nil {
		forget(llm, prompt)
	}
	return v, err
}

func forget(llm LLMProvider, prompt string) {
	if f, ok := llm.(Forgetter); ok {
		f.Forget(prompt)
	}
}

// Journal persists finished outcomes.
type Journal interface {
	SaveOutcome(ctx context.Context, outcome models.OrderOutcome) error
}

// User-visible operation names. They prefix retry warnings and terminal
// failure messages.
const (
	opSession    = "Storefront session"
	opPlan       = "Query planning"
	opSearch     = "Search"
	opExtract    = "Product extraction"
	opRank       = "Ranking"
	opLabels     = "Label simplification"
	opChoice     = "Choice"
	opResolve    = "Choice resolution"
	opOpen       = "Open product"
	opLocation   = "Page location"
	opCheckout   = "Checkout"
	opScreenshot = "Screenshot"
	opReturn     = "Return to results"
)

var (
	ErrNoCandidates      = errors.New("no candidates found on the results page")
	ErrNoRankedMatch     = errors.New("ranking matched none of the candidates")
	ErrLabelMismatch     = errors.New("label count does not match selection")
	ErrEmptyQuery        = errors.New("empty search query")
	ErrNotActivated      = errors.New("product not found among results")
	ErrNoCheckoutControl = errors.New("no checkout control found")
	ErrPrecondition      = errors.New("not on the product page for the chosen item")
)

// StageError names the stage and operation a run failed in.
type StageError struct {
	Stage     models.Stage
	Operation string
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Operation, Cause(e.Err))
}

func (e *StageError) Unwrap() error { return e.Err }

// Cause strips supervisor exhaustion down to the last underlying error.
func Cause(err error) error {
	var ex *supervisor.ExhaustedError
	if errors.As(err, &ex) && ex.Err != nil {
		return ex.Err
	}
	return err
}
