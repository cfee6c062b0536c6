// Package schedule persists and dispatches the two time-triggered lifecycle
// actions of a trip. A trip owns at most one outstanding batch of actions;
// rescheduling retracts the old batch before enqueueing a new one.
// Cancellation is race-tolerant: it guarantees no new execution begins, and
// the state machine's staleness check covers anything already in flight.
package schedule
