package schedule

import (
	"context"

	"github.com/kilianp07/fleetops/core/logger"
	"github.com/kilianp07/fleetops/core/metrics"
)

// Janitor removes pending deferred actions when a trip's schedule is
// retracted. Cleanup is best-effort: store failures are logged and reported
// through the return values, never raised, because the trip write that
// triggered the retraction must not be rolled back.
type Janitor struct {
	store Store
	log   logger.Logger
	sink  metrics.Sink
}

// NewJanitor creates a Janitor. log and sink default to no-ops.
func NewJanitor(store Store, log logger.Logger, sink metrics.Sink) *Janitor {
	if log == nil {
		log = logger.Nop{}
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Janitor{store: store, log: log, sink: sink}
}

// DeleteBatchCompletely removes the batch record and every pending action
// tagged with it. It reports false for an empty or unknown id. Claimed
// actions are left alone; they may be mid-execution.
func (j *Janitor) DeleteBatchCompletely(ctx context.Context, batchID string) bool {
	if batchID == "" {
		return false
	}
	ok, err := j.store.DeleteBatch(ctx, batchID)
	if err != nil {
		j.log.Errorf("delete batch %s: %v", batchID, err)
		return false
	}
	if ok {
		j.log.Debugf("deleted batch %s", batchID)
	}
	return ok
}

// DeletePendingTripJobs sweeps all pending actions targeting the trip,
// regardless of batch linkage, and returns the number removed. It catches
// actions whose batch id was lost or never recorded.
func (j *Janitor) DeletePendingTripJobs(ctx context.Context, tripID int64) int {
	n, err := j.store.DeletePendingByTrip(ctx, tripID)
	if err != nil {
		j.log.Errorf("delete pending actions for trip %d: %v", tripID, err)
		return 0
	}
	if n > 0 {
		j.sink.RecordJanitorDeletions(n)
		j.log.Infow("deleted orphaned pending actions", map[string]any{"trip_id": tripID, "count": n})
	}
	return n
}
