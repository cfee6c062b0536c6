package lifecycle

import "time"

// Events published on the bus for notifiers and diagnostics. Delivery is
// fire-and-forget; nothing in the core waits on a subscriber.

// TripStartedEvent is emitted when a start transition is applied.
type TripStartedEvent struct {
	TripID    int64     `json:"trip_id"`
	DriverID  int64     `json:"driver_id"`
	VehicleID int64     `json:"vehicle_id"`
	At        time.Time `json:"at"`
}

// TripCompletedEvent is emitted when an end transition is applied.
type TripCompletedEvent struct {
	TripID    int64     `json:"trip_id"`
	DriverID  int64     `json:"driver_id"`
	VehicleID int64     `json:"vehicle_id"`
	At        time.Time `json:"at"`
}

// TransitionSkippedEvent is emitted when a deferred action fires but the
// transition is a no-op (trip missing, wrong status, or stale action).
type TransitionSkippedEvent struct {
	TripID int64  `json:"trip_id"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// BatchScheduledEvent is emitted when new deferred actions are enqueued.
type BatchScheduledEvent struct {
	TripID  int64  `json:"trip_id"`
	BatchID string `json:"batch_id"`
	Actions int    `json:"actions"`
}

// EditBlockedEvent is emitted when the edit boundary rejects a mutation of
// an in-progress trip. Intended for operator notification.
type EditBlockedEvent struct {
	TripID int64  `json:"trip_id"`
	Field  string `json:"field"`
	Reason string `json:"reason"`
}
