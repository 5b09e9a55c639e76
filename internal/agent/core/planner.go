package core

import (
	"context"
	"strings"

	"github.com/mohammad-safakhou/cartpilot/internal/helpers"
	"github.com/mohammad-safakhou/cartpilot/internal/supervisor"
	"github.com/mohammad-safakhou/cartpilot/models"
)

// plan asks for a storefront search string. It is the one stage that never
// fails the run: on exhaustion the request text is searched as typed.
func (r *run) plan(ctx context.Context) error {
	q, err := supervisor.Execute(ctx, r.sup, opPlan, func(ctx context.Context) (string, error) {
		return ask(ctx, r.o.llm, planPrompt(r.req.Prompt), func(out string) (string, error) {
			q := cleanQuery(out)
			if q == "" {
				return "", ErrEmptyQuery
			}
			return q, nil
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.query = strings.TrimSpace(r.req.Prompt)
		r.warn(ctx, models.StagePlanning, "Could not plan a search query, searching for your request as typed.")
		return nil
	}
	r.query = q
	return nil
}

// cleanQuery keeps the first non-empty line and drops a code fence, wrapping
// quotes and a leading "query:" style label.
func cleanQuery(out string) string {
	for _, line := range strings.Split(helpers.Unfence(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if i := strings.Index(line, ":"); i >= 0 && i < 20 && strings.Contains(strings.ToLower(line[:i]), "query") {
			line = strings.TrimSpace(line[i+1:])
		}
		return strings.TrimSpace(strings.Trim(line, "\"'`"))
	}
	return ""
}
