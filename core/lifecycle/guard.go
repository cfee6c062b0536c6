package lifecycle

import (
	"errors"
	"fmt"

	"github.com/kilianp07/fleetops/core/model"
)

// ErrTripLocked is returned when an edit touches schedule, assignment or
// status fields of an in-progress trip.
var ErrTripLocked = errors.New("trip is in progress and cannot be modified")

// guardedFields may not change while a trip is in progress.
var guardedFields = []string{FieldStartAt, FieldEndAt, FieldDriverID, FieldVehicleID, FieldStatus}

// GuardEdit enforces the edit boundary rule for in-progress trips: no
// schedule, assignment or status mutation. current is the trip as stored,
// changed the field names the edit would modify. The returned error wraps
// ErrTripLocked and names the first offending field.
func GuardEdit(current model.Trip, changed []string) error {
	if current.Status != model.TripInProgress {
		return nil
	}
	for _, f := range changed {
		for _, g := range guardedFields {
			if f == g {
				return fmt.Errorf("%w: field %s", ErrTripLocked, f)
			}
		}
	}
	return nil
}
