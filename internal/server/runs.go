package server

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mohammad-safakhou/cartpilot/internal/notify"
	"github.com/mohammad-safakhou/cartpilot/models"
)

// DefaultRetainedRuns is how many finished runs stay in memory with their
// event history. Older ones are served from the journal.
const DefaultRetainedRuns = 256

// liveRun is an order started by this process.
type liveRun struct {
	req     models.OrderRequest
	history *notify.History
	cancel  context.CancelFunc

	mu      sync.RWMutex
	outcome *models.OrderOutcome
}

func (lr *liveRun) setOutcome(o models.OrderOutcome) {
	lr.mu.Lock()
	lr.outcome = &o
	lr.mu.Unlock()
}

// Outcome returns the finished outcome, if any.
func (lr *liveRun) Outcome() (models.OrderOutcome, bool) {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	if lr.outcome == nil {
		return models.OrderOutcome{}, false
	}
	return *lr.outcome, true
}

// Runs tracks in-process order runs. Active runs are never evicted.
type Runs struct {
	mu       sync.Mutex
	active   map[string]*liveRun
	finished *lru.Cache[string, *liveRun]
	wg       sync.WaitGroup
}

// NewRuns keeps up to retain finished runs in memory.
func NewRuns(retain int) (*Runs, error) {
	if retain <= 0 {
		retain = DefaultRetainedRuns
	}
	cache, err := lru.New[string, *liveRun](retain)
	if err != nil {
		return nil, err
	}
	return &Runs{active: make(map[string]*liveRun), finished: cache}, nil
}

// Start registers lr and runs fn on a new goroutine. The outcome fn returns is
// stored on lr and lr moves to the finished set.
func (r *Runs) Start(lr *liveRun, fn func() models.OrderOutcome) {
	r.mu.Lock()
	r.active[lr.req.ID] = lr
	r.mu.Unlock()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer lr.cancel()
		out := fn()
		lr.setOutcome(out)
		r.mu.Lock()
		delete(r.active, lr.req.ID)
		r.finished.Add(lr.req.ID, lr)
		r.mu.Unlock()
	}()
}

// Get looks up a run started by this process.
func (r *Runs) Get(id string) (*liveRun, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lr, ok := r.active[id]; ok {
		return lr, true
	}
	return r.finished.Get(id)
}

// Active lists the running orders owned by userID.
func (r *Runs) Active(userID string) []*liveRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*liveRun
	for _, lr := range r.active {
		if lr.req.UserID == userID {
			out = append(out, lr)
		}
	}
	return out
}

// Shutdown cancels every active run and waits for them to finish or ctx to end.
func (r *Runs) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	for _, lr := range r.active {
		lr.cancel()
	}
	r.mu.Unlock()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
