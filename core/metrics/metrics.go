package metrics

// Transition outcomes reported by the lifecycle state machine.
const (
	OutcomeApplied       = "applied"
	OutcomeSkippedGone   = "skipped_missing"
	OutcomeSkippedStatus = "skipped_status"
	OutcomeSkippedStale  = "skipped_stale"
	OutcomeFailed        = "failed"
)

// Sink receives scheduling and lifecycle events for export. Implementations
// live under infra/metrics.
type Sink interface {
	// RecordTransition counts one start/end transition attempt by outcome.
	RecordTransition(kind, outcome string)
	// RecordBatchScheduled counts a new action batch and its action count.
	RecordBatchScheduled(actions int)
	// RecordBatchCancelled counts a batch retraction.
	RecordBatchCancelled()
	// RecordJanitorDeletions counts pending actions removed by cleanup.
	RecordJanitorDeletions(n int)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) RecordTransition(string, string) {}
func (NopSink) RecordBatchScheduled(int)        {}
func (NopSink) RecordBatchCancelled()           {}
func (NopSink) RecordJanitorDeletions(int)      {}
