package server

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const janitorLockKey = "cartpilot:janitor:lock"

// Pruner deletes journaled outcomes older than a cutoff.
type Pruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Janitor periodically enforces journal retention. When Rdb is set only one
// instance prunes per interval.
type Janitor struct {
	Store     Pruner
	Rdb       *redis.Client
	Retention time.Duration
	Interval  time.Duration
	Logger    *log.Logger

	now func() time.Time
}

// Start prunes once immediately and then every Interval until ctx ends.
func (j *Janitor) Start(ctx context.Context) {
	if j.Retention <= 0 || j.Store == nil {
		return
	}
	interval := j.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		j.tick(ctx, interval)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				j.tick(ctx, interval)
			}
		}
	}()
}

func (j *Janitor) tick(ctx context.Context, interval time.Duration) {
	if j.Rdb != nil {
		ok, err := j.Rdb.SetNX(ctx, janitorLockKey, "1", interval/2).Result()
		if err != nil {
			j.logf("warn: janitor lock failed: %v", err)
			return
		}
		if !ok {
			return
		}
	}
	now := time.Now
	if j.now != nil {
		now = j.now
	}
	cutoff := now().Add(-j.Retention)
	n, err := j.Store.PruneBefore(ctx, cutoff)
	if err != nil {
		j.logf("warn: prune journal failed: %v", err)
		return
	}
	if n > 0 {
		j.logf("pruned %d orders finished before %s", n, cutoff.Format(time.RFC3339))
	}
}

func (j *Janitor) logf(format string, args ...interface{}) {
	if j.Logger != nil {
		j.Logger.Printf(format, args...)
	}
}
