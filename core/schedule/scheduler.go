package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/fleetops/core/logger"
	"github.com/kilianp07/fleetops/core/metrics"
)

// Scheduler enqueues and retracts the deferred start/end actions of a trip
// as one retractable batch.
type Scheduler struct {
	store Store
	log   logger.Logger
	sink  metrics.Sink
	now   func() time.Time
}

// NewScheduler creates a Scheduler. log and sink default to no-ops.
func NewScheduler(store Store, log logger.Logger, sink metrics.Sink) *Scheduler {
	if log == nil {
		log = logger.Nop{}
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Scheduler{store: store, log: log, sink: sink, now: time.Now}
}

// ScheduleBatch enqueues a start action at startAt and an end action at
// endAt, each only if the time is set. Times already in the past fire
// immediately. Both actions share one batch id, returned to the caller.
// With nothing to schedule the batch id is empty and no batch is created.
func (s *Scheduler) ScheduleBatch(ctx context.Context, tripID int64, startAt, endAt time.Time) (string, error) {
	now := s.now()
	batchID := uuid.NewString()
	var actions []Action
	if !startAt.IsZero() {
		actions = append(actions, Action{
			BatchID:    batchID,
			TripID:     tripID,
			Kind:       KindStart,
			CapturedAt: startAt,
			FiresAt:    fireTime(startAt, now),
		})
	}
	if !endAt.IsZero() {
		actions = append(actions, Action{
			BatchID:    batchID,
			TripID:     tripID,
			Kind:       KindEnd,
			CapturedAt: endAt,
			FiresAt:    fireTime(endAt, now),
		})
	}
	if len(actions) == 0 {
		return "", nil
	}
	batch := Batch{ID: batchID, TripID: tripID, CreatedAt: now}
	if err := s.store.Enqueue(ctx, batch, actions); err != nil {
		return "", fmt.Errorf("enqueue batch for trip %d: %w", tripID, err)
	}
	s.sink.RecordBatchScheduled(len(actions))
	s.log.Infow("scheduled trip actions", map[string]any{"trip_id": tripID, "batch_id": batchID, "actions": len(actions)})
	return batchID, nil
}

// CancelBatch marks the batch cancelled. Pending actions become guaranteed
// no-ops; an action already claimed runs to completion and relies on the
// state machine's staleness check.
func (s *Scheduler) CancelBatch(ctx context.Context, batchID string) error {
	if batchID == "" {
		return nil
	}
	if err := s.store.CancelBatch(ctx, batchID); err != nil {
		return fmt.Errorf("cancel batch %s: %w", batchID, err)
	}
	s.sink.RecordBatchCancelled()
	return nil
}

func fireTime(at, now time.Time) time.Time {
	if at.Before(now) {
		return now
	}
	return at
}
