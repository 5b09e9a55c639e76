package core

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/cartpilot/internal/supervisor"
	"github.com/mohammad-safakhou/cartpilot/models"
)

// open re-finds the chosen title on a fresh read of the results page and
// activates it.
func (r *run) open(ctx context.Context) error {
	title := r.chosen.Candidate.Title
	return supervisor.Do(ctx, r.sup, opOpen, func(ctx context.Context) error {
		ok, err := r.session.ActivateByTitle(ctx, title)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotActivated, title)
		}
		return nil
	})
}

// initiateCheckout checks the product-page precondition, then clicks the first
// matching checkout control and captures the confirmation page. The boolean
// reports whether a failure may be recovered by replaying the chosen item.
func (r *run) initiateCheckout(ctx context.Context) (bool, error) {
	loc, err := supervisor.Execute(ctx, r.sup, opLocation, r.session.CurrentLocation)
	if err != nil {
		return false, &StageError{Stage: r.stage, Operation: opLocation, Err: err}
	}
	if !r.profile.IsProductDetail(loc, r.chosen.Candidate) {
		return false, &StageError{Stage: r.stage, Operation: opCheckout, Err: fmt.Errorf("%w (at %s)", ErrPrecondition, loc)}
	}

	err = supervisor.Do(ctx, r.sup, opCheckout, func(ctx context.Context) error {
		ok, err := r.session.LocateAndClick(ctx, r.profile.CheckoutControls)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNoCheckoutControl
		}
		return nil
	})
	if err != nil {
		return supervisor.IsExhausted(err), &StageError{Stage: r.stage, Operation: opCheckout, Err: err}
	}

	shot, err := supervisor.Execute(ctx, r.sup, opScreenshot, r.session.Screenshot)
	if err != nil {
		return false, &StageError{Stage: r.stage, Operation: opScreenshot, Err: err}
	}
	r.shot = shot
	return true, nil
}

// checkoutWithRecovery allows one recovery cycle: back to the results, reopen
// the same chosen item and try checkout once more. The human is never asked
// again and nothing is re-ranked.
func (r *run) checkoutWithRecovery(ctx context.Context) error {
	var recoverable bool
	err := r.step(ctx, models.StageCheckingOut, opCheckout, func(ctx context.Context) error {
		var err error
		recoverable, err = r.initiateCheckout(ctx)
		return err
	})
	if err == nil || !recoverable {
		return err
	}
	if ctx.Err() != nil {
		return err
	}

	r.recoveries++
	r.o.telemetry.RecordRecovery()
	r.say(ctx, fmt.Sprintf("Checkout did not go through, retrying once with %s.", r.chosen.Candidate.Title), Cause(err).Error())

	return r.step(ctx, models.StageRecoveryRetry, opCheckout, func(ctx context.Context) error {
		if err := r.returnToResults(ctx); err != nil {
			return &StageError{Stage: models.StageRecoveryRetry, Operation: opReturn, Err: err}
		}
		if err := r.open(ctx); err != nil {
			return &StageError{Stage: models.StageRecoveryRetry, Operation: opOpen, Err: err}
		}
		_, err := r.initiateCheckout(ctx)
		return err
	})
}

func (r *run) returnToResults(ctx context.Context) error {
	return supervisor.Do(ctx, r.sup, opReturn, func(ctx context.Context) error {
		if r.resultsURL != "" {
			return r.session.Navigate(ctx, r.resultsURL)
		}
		return r.session.Search(ctx, r.query)
	})
}
