package core

import (
	"context"

	"github.com/mohammad-safakhou/cartpilot/internal/notify"
	"github.com/mohammad-safakhou/cartpilot/models"
)

// Runner executes one order request through a notification channel.
// *Orchestrator is the production implementation.
type Runner interface {
	Run(ctx context.Context, req models.OrderRequest, ch notify.Channel) models.OrderOutcome
}

// Resolver picks the runner for a storefront name; "" selects the default.
type Resolver func(storefront string) (Runner, error)

// Single resolves every storefront to r.
func Single(r Runner) Resolver {
	return func(string) (Runner, error) { return r, nil }
}

var _ Runner = (*Orchestrator)(nil)
