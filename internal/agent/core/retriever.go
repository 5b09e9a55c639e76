package core

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/cartpilot/internal/supervisor"
	"github.com/mohammad-safakhou/cartpilot/models"
)

// search runs the query and remembers where the results live so recovery can
// come back to them.
func (r *run) search(ctx context.Context) error {
	r.say(ctx, fmt.Sprintf("Searching %s for %q", r.profile.Name, r.query))
	return supervisor.Do(ctx, r.sup, opSearch, func(ctx context.Context) error {
		if err := r.session.Search(ctx, r.query); err != nil {
			return err
		}
		loc, err := r.session.CurrentLocation(ctx)
		if err != nil {
			return err
		}
		r.resultsURL = loc
		return nil
	})
}

// extract reads candidates from the results page. An empty page counts as a
// failed attempt and is retried like any other failure.
func (r *run) extract(ctx context.Context) error {
	cands, err := supervisor.Execute(ctx, r.sup, opExtract, func(ctx context.Context) ([]models.Candidate, error) {
		raw, err := r.session.ExtractCandidates(ctx)
		if err != nil {
			return nil, err
		}
		valid := make([]models.Candidate, 0, len(raw))
		for _, c := range raw {
			if c.Valid() {
				valid = append(valid, c)
			}
		}
		if len(valid) == 0 {
			return nil, ErrNoCandidates
		}
		return valid, nil
	})
	if err != nil {
		return err
	}
	r.candidates = cands
	r.say(ctx, fmt.Sprintf("Found %d products", len(cands)))
	return nil
}
