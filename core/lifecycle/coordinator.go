package lifecycle

import (
	"context"
	"fmt"
	"slices"

	"github.com/kilianp07/fleetops/core/logger"
	"github.com/kilianp07/fleetops/core/model"
	"github.com/kilianp07/fleetops/core/schedule"
	"github.com/kilianp07/fleetops/internal/eventbus"
)

// Field names the edit boundary reports in change sets.
const (
	FieldStartAt   = "start_at"
	FieldEndAt     = "end_at"
	FieldDriverID  = "driver_id"
	FieldVehicleID = "vehicle_id"
	FieldStatus    = "status"
)

// reschedulingFields are the changes that invalidate a trip's action batch.
var reschedulingFields = []string{FieldStartAt, FieldEndAt, FieldDriverID, FieldVehicleID}

// BatchRecorder persists the batch id on a trip without re-triggering
// lifecycle events (a quiet save).
type BatchRecorder interface {
	SetTripBatchID(ctx context.Context, tripID int64, batchID string) error
}

// Coordinator reacts to trip persistence events and keeps the deferred
// action batch in sync with the trip's schedule. The edit boundary calls it
// exactly once per durable write.
type Coordinator struct {
	trips   BatchRecorder
	sched   *schedule.Scheduler
	janitor *schedule.Janitor
	bus     eventbus.EventBus
	log     logger.Logger
}

// NewCoordinator creates a Coordinator. bus may be nil; log defaults to a
// no-op.
func NewCoordinator(trips BatchRecorder, sched *schedule.Scheduler, janitor *schedule.Janitor, bus eventbus.EventBus, log logger.Logger) *Coordinator {
	if log == nil {
		log = logger.Nop{}
	}
	return &Coordinator{trips: trips, sched: sched, janitor: janitor, bus: bus, log: log}
}

// OnCreated schedules the start/end batch for a freshly created trip.
// Trips created in any status other than scheduled get no actions.
func (c *Coordinator) OnCreated(ctx context.Context, trip model.Trip) error {
	if trip.Status != model.TripScheduled {
		return nil
	}
	return c.scheduleBatch(ctx, trip)
}

// OnUpdated reconciles scheduling state after an edit. changed lists the
// persisted field names that differ from the previous row. Updates that
// touch none of the schedule/assignment fields leave scheduling state
// untouched.
func (c *Coordinator) OnUpdated(ctx context.Context, trip model.Trip, changed []string) error {
	if trip.Status != model.TripScheduled {
		c.retract(ctx, trip)
		if trip.BatchID != "" {
			if err := c.trips.SetTripBatchID(ctx, trip.ID, ""); err != nil {
				return fmt.Errorf("clear batch id on trip %d: %w", trip.ID, err)
			}
		}
		return nil
	}
	relevant := false
	for _, f := range reschedulingFields {
		if slices.Contains(changed, f) {
			relevant = true
			break
		}
	}
	if !relevant {
		return nil
	}
	c.log.Infof("trip %d rescheduled, replacing action batch", trip.ID)
	c.retract(ctx, trip)
	return c.scheduleBatch(ctx, trip)
}

// OnDeleted retracts any outstanding actions of a removed trip.
func (c *Coordinator) OnDeleted(ctx context.Context, trip model.Trip) {
	c.retract(ctx, trip)
}

// retract cancels and deletes the trip's current batch, then sweeps for
// orphaned pending actions. Both paths run on every retraction because
// either alone can leave orphans.
func (c *Coordinator) retract(ctx context.Context, trip model.Trip) {
	if trip.BatchID != "" {
		if err := c.sched.CancelBatch(ctx, trip.BatchID); err != nil {
			c.log.Errorf("cancel batch for trip %d: %v", trip.ID, err)
		}
		c.janitor.DeleteBatchCompletely(ctx, trip.BatchID)
	}
	if n := c.janitor.DeletePendingTripJobs(ctx, trip.ID); n > 0 {
		c.log.Infof("swept %d stray pending actions for trip %d", n, trip.ID)
	}
}

func (c *Coordinator) scheduleBatch(ctx context.Context, trip model.Trip) error {
	batchID, err := c.sched.ScheduleBatch(ctx, trip.ID, trip.StartAt, trip.EndAt)
	if err != nil {
		return err
	}
	if batchID == "" {
		return nil
	}
	if err := c.trips.SetTripBatchID(ctx, trip.ID, batchID); err != nil {
		return fmt.Errorf("record batch id on trip %d: %w", trip.ID, err)
	}
	if c.bus != nil {
		actions := 0
		if !trip.StartAt.IsZero() {
			actions++
		}
		if !trip.EndAt.IsZero() {
			actions++
		}
		c.bus.Publish(BatchScheduledEvent{TripID: trip.ID, BatchID: batchID, Actions: actions})
	}
	return nil
}
