package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/kilianp07/fleetops/core/logger"
)

// Handler executes a claimed action. Implementations must treat skips as
// normal behaviour and never panic the worker on a failing trip. A returned
// error means the action could not be attempted (a store failure, not a
// skip) and should be retried later.
type Handler interface {
	HandleStart(ctx context.Context, tripID int64, captured time.Time) error
	HandleEnd(ctx context.Context, tripID int64, captured time.Time) error
}

// ExecutorConfig tunes the background dispatcher.
type ExecutorConfig struct {
	// PollInterval bounds how long the dispatcher sleeps when nothing is
	// due; it also covers actions enqueued while sleeping.
	PollInterval time.Duration `json:"poll_interval"`
	// Workers is the number of concurrent action executions.
	Workers int `json:"workers"`
	// ClaimLimit caps the actions claimed per wake-up.
	ClaimLimit int `json:"claim_limit"`
	// RetryDelay is how long a failed action waits before it becomes
	// claimable again.
	RetryDelay time.Duration `json:"retry_delay"`
}

// SetDefaults applies sane defaults.
func (c *ExecutorConfig) SetDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.ClaimLimit <= 0 {
		c.ClaimLimit = 32
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 30 * time.Second
	}
}

// Executor drains the durable action queue in the background, independently
// of the request path. Actions for the same trip are serialized through a
// per-trip lock so a start and an end never apply opposite resource flips
// concurrently.
type Executor struct {
	store   Store
	handler Handler
	cfg     ExecutorConfig
	log     logger.Logger
	now     func() time.Time
	locks   tripLocks
}

// NewExecutor creates an Executor. log defaults to a no-op.
func NewExecutor(store Store, handler Handler, cfg ExecutorConfig, log logger.Logger) *Executor {
	cfg.SetDefaults()
	if log == nil {
		log = logger.Nop{}
	}
	return &Executor{store: store, handler: handler, cfg: cfg, log: log, now: time.Now}
}

// Run dispatches due actions until the context is cancelled. It wakes on a
// timer set to the next due fire time, bounded by the poll interval.
func (e *Executor) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		e.Drain(ctx)
		timer.Reset(e.nextWake(ctx))
	}
}

// Drain claims and executes everything currently due. Exposed for tests
// and for forcing execution without waiting on the timer.
func (e *Executor) Drain(ctx context.Context) {
	for {
		actions, err := e.store.ClaimDue(ctx, e.now(), e.cfg.ClaimLimit)
		if err != nil {
			e.log.Errorf("claim due actions: %v", err)
			return
		}
		if len(actions) == 0 {
			return
		}
		var wg sync.WaitGroup
		sem := make(chan struct{}, e.cfg.Workers)
		for _, a := range actions {
			wg.Add(1)
			sem <- struct{}{}
			go func(a Action) {
				defer wg.Done()
				defer func() { <-sem }()
				e.execute(ctx, a)
			}(a)
		}
		wg.Wait()
		if len(actions) < e.cfg.ClaimLimit {
			return
		}
	}
}

// execute runs one claimed action in isolation: a panic or error in one
// action never blocks the others. A handler error re-pends the action for
// a later retry; a panic drops it so a poison action cannot loop forever.
func (e *Executor) execute(ctx context.Context, a Action) {
	unlock := e.locks.lock(a.TripID)
	defer unlock()
	if err := e.dispatch(ctx, a); err != nil {
		retryAt := e.now().Add(e.cfg.RetryDelay)
		e.log.Warnf("action %d for trip %d failed, retrying at %s: %v", a.ID, a.TripID, retryAt.Format(time.RFC3339), err)
		if relErr := e.store.Release(ctx, a.ID, retryAt); relErr != nil {
			e.log.Errorf("release action %d: %v", a.ID, relErr)
		}
		return
	}
	if err := e.store.MarkDone(ctx, a.ID); err != nil {
		e.log.Errorf("mark action %d done: %v", a.ID, err)
	}
}

// dispatch invokes the handler for one action, containing any panic so
// queue bookkeeping in execute always runs.
func (e *Executor) dispatch(ctx context.Context, a Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Errorf("action %d for trip %d panicked: %v", a.ID, a.TripID, r)
		}
	}()
	switch a.Kind {
	case KindStart:
		return e.handler.HandleStart(ctx, a.TripID, a.CapturedAt)
	case KindEnd:
		return e.handler.HandleEnd(ctx, a.TripID, a.CapturedAt)
	default:
		e.log.Warnf("unknown action kind %q for trip %d", a.Kind, a.TripID)
		return nil
	}
}

func (e *Executor) nextWake(ctx context.Context) time.Duration {
	due, ok, err := e.store.NextDue(ctx)
	if err != nil {
		e.log.Errorf("next due lookup: %v", err)
		return e.cfg.PollInterval
	}
	if !ok {
		return e.cfg.PollInterval
	}
	d := time.Until(due)
	if d < 0 {
		return 0
	}
	if d > e.cfg.PollInterval {
		return e.cfg.PollInterval
	}
	return d
}

// tripLocks hands out one mutex per trip id.
type tripLocks struct {
	mu sync.Mutex
	m  map[int64]*sync.Mutex
}

func (l *tripLocks) lock(tripID int64) func() {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[int64]*sync.Mutex)
	}
	m, ok := l.m[tripID]
	if !ok {
		m = &sync.Mutex{}
		l.m[tripID] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
