package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/fleetops/core/logger"
	"github.com/kilianp07/fleetops/core/metrics"
	"github.com/kilianp07/fleetops/core/model"
	"github.com/kilianp07/fleetops/internal/eventbus"
)

// Outcome classifies the result of a transition attempt. Skips are expected
// behaviour, not errors.
type Outcome string

const (
	OutcomeApplied       Outcome = Outcome(metrics.OutcomeApplied)
	OutcomeSkippedGone   Outcome = Outcome(metrics.OutcomeSkippedGone)
	OutcomeSkippedStatus Outcome = Outcome(metrics.OutcomeSkippedStatus)
	OutcomeSkippedStale  Outcome = Outcome(metrics.OutcomeSkippedStale)
)

// Store is the persistence boundary of the state machine. ApplyTransition
// must write the trip and both resource flips in a single atomic unit so a
// concurrent availability read never observes a half-applied transition.
type Store interface {
	FindTrip(ctx context.Context, id int64) (model.Trip, error)
	FindDriver(ctx context.Context, id int64) (model.Driver, error)
	FindVehicle(ctx context.Context, id int64) (model.Vehicle, error)
	ApplyTransition(ctx context.Context, trip model.Trip, driver *model.Driver, vehicle *model.Vehicle) error
}

// StateMachine owns the scheduled -> in_progress -> completed transitions
// and the driver/vehicle status flips they entail. It is the only writer of
// resource status fields.
type StateMachine struct {
	store Store
	bus   eventbus.EventBus
	log   logger.Logger
	sink  metrics.Sink
}

// NewStateMachine creates a StateMachine. bus may be nil; log and sink
// default to no-ops.
func NewStateMachine(store Store, bus eventbus.EventBus, log logger.Logger, sink metrics.Sink) *StateMachine {
	if log == nil {
		log = logger.Nop{}
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &StateMachine{store: store, bus: bus, log: log, sink: sink}
}

// Start moves a scheduled trip to in_progress and marks its driver and
// vehicle busy. capturedStart is the trip's start time as it was when the
// action was enqueued; a mismatch means the trip was rescheduled and this
// action is stale.
func (m *StateMachine) Start(ctx context.Context, tripID int64, capturedStart time.Time) (Outcome, error) {
	trip, outcome, err := m.check(ctx, "start", tripID, func(t model.Trip) Outcome {
		if t.Status != model.TripScheduled {
			return OutcomeSkippedStatus
		}
		if !capturedStart.IsZero() && !t.StartAt.IsZero() && !t.StartAt.Equal(capturedStart) {
			return OutcomeSkippedStale
		}
		return OutcomeApplied
	})
	if outcome != OutcomeApplied || err != nil {
		return outcome, err
	}

	trip.Status = model.TripInProgress
	driver, vehicle := m.resources(ctx, trip)
	if driver != nil {
		driver.Status = model.DriverInactive
		driver.IsActive = false
	}
	if vehicle != nil {
		vehicle.Status = model.VehicleInUse
	}
	if err := m.store.ApplyTransition(ctx, trip, driver, vehicle); err != nil {
		m.sink.RecordTransition("start", metrics.OutcomeFailed)
		return "", fmt.Errorf("apply start transition for trip %d: %w", tripID, err)
	}
	m.sink.RecordTransition("start", metrics.OutcomeApplied)
	m.log.Infow("trip started", map[string]any{"trip_id": trip.ID, "driver_id": trip.DriverID, "vehicle_id": trip.VehicleID})
	if m.bus != nil {
		m.bus.Publish(TripStartedEvent{TripID: trip.ID, DriverID: trip.DriverID, VehicleID: trip.VehicleID, At: time.Now()})
	}
	return OutcomeApplied, nil
}

// End moves a trip to completed and frees its driver and vehicle. The
// precondition accepts in_progress and scheduled: a trip rescheduled to
// carry only an end time must still be closable even if start never fired.
func (m *StateMachine) End(ctx context.Context, tripID int64, capturedEnd time.Time) (Outcome, error) {
	trip, outcome, err := m.check(ctx, "end", tripID, func(t model.Trip) Outcome {
		if t.Status != model.TripInProgress && t.Status != model.TripScheduled {
			return OutcomeSkippedStatus
		}
		if !capturedEnd.IsZero() && !t.EndAt.IsZero() && !t.EndAt.Equal(capturedEnd) {
			return OutcomeSkippedStale
		}
		return OutcomeApplied
	})
	if outcome != OutcomeApplied || err != nil {
		return outcome, err
	}

	trip.Status = model.TripCompleted
	driver, vehicle := m.resources(ctx, trip)
	if driver != nil {
		driver.Status = model.DriverActive
		driver.IsActive = true
	}
	if vehicle != nil {
		vehicle.Status = model.VehicleAvailable
	}
	if err := m.store.ApplyTransition(ctx, trip, driver, vehicle); err != nil {
		m.sink.RecordTransition("end", metrics.OutcomeFailed)
		return "", fmt.Errorf("apply end transition for trip %d: %w", tripID, err)
	}
	m.sink.RecordTransition("end", metrics.OutcomeApplied)
	m.log.Infow("trip completed", map[string]any{"trip_id": trip.ID, "driver_id": trip.DriverID, "vehicle_id": trip.VehicleID})
	if m.bus != nil {
		m.bus.Publish(TripCompletedEvent{TripID: trip.ID, DriverID: trip.DriverID, VehicleID: trip.VehicleID, At: time.Now()})
	}
	return OutcomeApplied, nil
}

// check loads the trip and evaluates the precondition, recording skips.
func (m *StateMachine) check(ctx context.Context, kind string, tripID int64, pre func(model.Trip) Outcome) (model.Trip, Outcome, error) {
	trip, err := m.store.FindTrip(ctx, tripID)
	if errors.Is(err, model.ErrNotFound) {
		m.skip(kind, tripID, OutcomeSkippedGone)
		return model.Trip{}, OutcomeSkippedGone, nil
	}
	if err != nil {
		return model.Trip{}, "", fmt.Errorf("find trip %d: %w", tripID, err)
	}
	if outcome := pre(trip); outcome != OutcomeApplied {
		m.skip(kind, tripID, outcome)
		return model.Trip{}, outcome, nil
	}
	return trip, OutcomeApplied, nil
}

func (m *StateMachine) skip(kind string, tripID int64, outcome Outcome) {
	m.sink.RecordTransition(kind, string(outcome))
	m.log.Debugw("transition skipped", map[string]any{"trip_id": tripID, "kind": kind, "reason": string(outcome)})
	if m.bus != nil {
		m.bus.Publish(TransitionSkippedEvent{TripID: tripID, Kind: kind, Reason: string(outcome)})
	}
}

// resources loads the trip's driver and vehicle, tolerating missing rows.
func (m *StateMachine) resources(ctx context.Context, trip model.Trip) (*model.Driver, *model.Vehicle) {
	var driver *model.Driver
	var vehicle *model.Vehicle
	if trip.DriverID != 0 {
		if d, err := m.store.FindDriver(ctx, trip.DriverID); err == nil {
			driver = &d
		} else if !errors.Is(err, model.ErrNotFound) {
			m.log.Warnf("load driver %d: %v", trip.DriverID, err)
		}
	}
	if trip.VehicleID != 0 {
		if v, err := m.store.FindVehicle(ctx, trip.VehicleID); err == nil {
			vehicle = &v
		} else if !errors.Is(err, model.ErrNotFound) {
			m.log.Warnf("load vehicle %d: %v", trip.VehicleID, err)
		}
	}
	return driver, vehicle
}

// HandleStart adapts Start to the deferred-action executor. Skips are
// normal outcomes; a store error is returned so the action is retried.
func (m *StateMachine) HandleStart(ctx context.Context, tripID int64, captured time.Time) error {
	if _, err := m.Start(ctx, tripID, captured); err != nil {
		m.log.Errorf("start action for trip %d: %v", tripID, err)
		return err
	}
	return nil
}

// HandleEnd adapts End to the deferred-action executor.
func (m *StateMachine) HandleEnd(ctx context.Context, tripID int64, captured time.Time) error {
	if _, err := m.End(ctx, tripID, captured); err != nil {
		m.log.Errorf("end action for trip %d: %v", tripID, err)
		return err
	}
	return nil
}
