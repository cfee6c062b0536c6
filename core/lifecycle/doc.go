// Package lifecycle drives trips through scheduled -> in_progress ->
// completed. The state machine is the only writer of driver and vehicle
// status fields; the coordinator keeps each trip's deferred action batch in
// sync with its schedule. Transitions fired against an outdated schedule
// are detected through the captured value and skipped.
package lifecycle
