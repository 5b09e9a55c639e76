package core

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/mohammad-safakhou/cartpilot/internal/helpers"
	"github.com/mohammad-safakhou/cartpilot/internal/supervisor"
	"github.com/mohammad-safakhou/cartpilot/models"
	"github.com/mohammad-safakhou/cartpilot/tools/storefront/profile"
)

var listMarkerRE = regexp.MustCompile(`^(?:[-*•]\s+|\d+[.)]\s+|\(\d+\)\s+)`)

// rank narrows the candidates to at most five. Exhausted ranking falls back to
// the first five in retrieval order instead of failing the run.
func (r *run) rank(ctx context.Context) error {
	sel, err := supervisor.Execute(ctx, r.sup, opRank, func(ctx context.Context) (models.RankedSelection, error) {
		return ask(ctx, r.o.llm, rankPrompt(r.candidates, r.req.Prompt), func(out string) (models.RankedSelection, error) {
			sel := MatchRanked(out, r.candidates)
			if len(sel) == 0 {
				return nil, ErrNoRankedMatch
			}
			return sel, nil
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.ranked = TopN(r.candidates, models.MaxRanked)
		r.warn(ctx, models.StageRanking, fmt.Sprintf("Ranking unavailable, showing the first %d results.", len(r.ranked)))
		return nil
	}
	r.ranked = sel
	return nil
}

// MatchRanked resolves completion lines to candidates. Each line maps to the
// first unused candidate whose title it equals, falling back to containment in
// either direction. The result only holds members of cands and never exceeds
// models.MaxRanked.
func MatchRanked(out string, cands []models.Candidate) models.RankedSelection {
	used := make([]bool, len(cands))
	var sel models.RankedSelection
	for _, line := range SplitLines(out) {
		if len(sel) == models.MaxRanked {
			break
		}
		idx := -1
		want := profile.NormalizeTitle(line)
		for i, c := range cands {
			if !used[i] && profile.NormalizeTitle(c.Title) == want {
				idx = i
				break
			}
		}
		if idx < 0 {
			for i, c := range cands {
				if !used[i] && profile.TitlesMatch(line, c.Title) {
					idx = i
					break
				}
			}
		}
		if idx < 0 {
			continue
		}
		used[idx] = true
		sel = append(sel, cands[idx])
	}
	return sel
}

// TopN returns the first n candidates.
func TopN(cands []models.Candidate, n int) models.RankedSelection {
	if len(cands) < n {
		n = len(cands)
	}
	out := make(models.RankedSelection, n)
	copy(out, cands[:n])
	return out
}

// toReadableLabels asks for one short label per selected item. A count
// mismatch fails the attempt; labels are never realigned.
func (r *run) toReadableLabels(ctx context.Context) error {
	labels, err := supervisor.Execute(ctx, r.sup, opLabels, func(ctx context.Context) ([]string, error) {
		return ask(ctx, r.o.llm, labelPrompt(r.ranked), func(out string) ([]string, error) {
			labels := SplitLines(out)
			if len(labels) != len(r.ranked) {
				return nil, fmt.Errorf("%w: got %d labels for %d items", ErrLabelMismatch, len(labels), len(r.ranked))
			}
			return labels, nil
		})
	})
	if err != nil {
		return err
	}
	r.labels = labels
	return nil
}

// SplitLines unwraps a code fence, trims lines, drops empty ones and strips
// list markers and wrapping quotes.
func SplitLines(out string) []string {
	var lines []string
	for _, line := range strings.Split(helpers.Unfence(out), "\n") {
		line = listMarkerRE.ReplaceAllString(strings.TrimSpace(line), "")
		line = strings.TrimSpace(strings.Trim(line, "\"'`"))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
