package core

import (
	"context"
	"errors"
	"regexp"
	"strconv"

	"github.com/mohammad-safakhou/cartpilot/internal/supervisor"
	"github.com/mohammad-safakhou/cartpilot/models"
)

var errPromptReissued = errors.New("selection prompt already issued for this run")

var integerRE = regexp.MustCompile(`-?\d+`)

// choose presents the labels once and suspends until the human answers.
// The wait has no timer; only ctx ends it early.
func (r *run) choose(ctx context.Context) error {
	if r.prompts > 0 {
		return errPromptReissued
	}
	r.prompts++
	raw, err := r.ch.SendOptions(ctx, r.labels)
	if err != nil {
		return err
	}
	idx := r.resolveChoice(ctx, raw)
	r.chosen = &models.ChosenItem{Index: idx, Candidate: r.ranked[idx-1], Response: raw}
	r.say(ctx, "Going with "+r.labels[idx-1])
	return nil
}

// resolveChoice maps free text to a 1-based index into the ranked selection.
// It is total: anything unparsable, out of range or unanswerable yields 1.
func (r *run) resolveChoice(ctx context.Context, raw string) int {
	n := len(r.ranked)
	prompt := resolvePrompt(r.ranked, r.labels, raw)
	out, err := supervisor.Execute(ctx, r.sup, opResolve, func(ctx context.Context) (string, error) {
		return r.o.llm.Complete(ctx, prompt)
	})
	if err != nil {
		r.o.logger.Printf("warn: order %s: choice resolution unavailable, defaulting to option 1: %v", r.req.ID, Cause(err))
		return 1
	}
	idx, ok := ParseIndex(out, n)
	if !ok {
		forget(r.o.llm, prompt)
		r.o.logger.Printf("warn: order %s: unusable choice %q for reply %q, defaulting to option 1", r.req.ID, truncate(out, 40), truncate(raw, 40))
		return 1
	}
	return idx
}

// ParseIndex reads the first integer in out and accepts it when it lies in [1, n].
func ParseIndex(out string, n int) (int, bool) {
	m := integerRE.FindString(out)
	if m == "" {
		return 0, false
	}
	v, err := strconv.Atoi(m)
	if err != nil || v < 1 || v > n {
		return 0, false
	}
	return v, true
}
