// Package availability answers "who is free during this window" for a
// company's drivers and vehicles. Only trips in an occupying status
// (scheduled, in_progress) block a resource; completed, cancelled and
// delayed trips never do.
package availability
