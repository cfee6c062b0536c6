package schedule

import (
	"context"
	"time"
)

// Kind discriminates the two deferred transitions of a trip.
type Kind string

const (
	KindStart Kind = "start"
	KindEnd   Kind = "end"
)

// Action is one deferred lifecycle transition. CapturedAt is the trip's
// schedule value (start or end time) as it was when the action was
// enqueued; the state machine uses it to detect stale actions. The fields
// are persisted in inspectable form so cleanup can match actions by trip
// without executing them.
type Action struct {
	ID         int64     `json:"id"`
	BatchID    string    `json:"batch_id"`
	TripID     int64     `json:"trip_id"`
	Kind       Kind      `json:"kind"`
	CapturedAt time.Time `json:"captured_at"`
	FiresAt    time.Time `json:"fires_at"`
}

// Batch groups the at most two actions belonging to one trip schedule.
type Batch struct {
	ID          string    `json:"id"`
	TripID      int64     `json:"trip_id"`
	CreatedAt   time.Time `json:"created_at"`
	CancelledAt time.Time `json:"cancelled_at,omitempty"`
}

// Store is the durable action queue. Implementations must make ClaimDue
// atomic per action: an action is claimed exactly once, and never while its
// batch is cancelled. Claimed actions are invisible to the deletion paths.
type Store interface {
	// Enqueue persists the batch and its actions in one unit.
	Enqueue(ctx context.Context, batch Batch, actions []Action) error
	// CancelBatch marks the batch cancelled. Pending actions of a
	// cancelled batch are never claimed. Unknown ids are a no-op.
	CancelBatch(ctx context.Context, batchID string) error
	// ClaimDue atomically claims up to limit pending actions due at or
	// before now, ordered by fire time, skipping cancelled batches.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Action, error)
	// MarkDone removes a claimed action after execution.
	MarkDone(ctx context.Context, actionID int64) error
	// Release re-pends a claimed action so it becomes claimable again at
	// firesAt. Unknown or non-claimed ids are a no-op.
	Release(ctx context.Context, actionID int64, firesAt time.Time) error
	// DeleteBatch removes the batch record and its pending actions.
	// It reports false when the batch does not exist.
	DeleteBatch(ctx context.Context, batchID string) (bool, error)
	// DeletePendingByTrip removes all pending actions targeting the trip,
	// regardless of batch, and returns the number removed.
	DeletePendingByTrip(ctx context.Context, tripID int64) (int, error)
	// NextDue returns the earliest fire time among claimable actions.
	NextDue(ctx context.Context) (time.Time, bool, error)
}
