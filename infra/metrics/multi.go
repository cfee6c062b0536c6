package metrics

import (
	coremetrics "github.com/kilianp07/fleetops/core/metrics"
)

// MultiSink fans every event out to multiple sinks.
type MultiSink struct {
	sinks []coremetrics.Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) RecordTransition(kind, outcome string) {
	for _, s := range m.sinks {
		s.RecordTransition(kind, outcome)
	}
}

func (m *MultiSink) RecordBatchScheduled(actions int) {
	for _, s := range m.sinks {
		s.RecordBatchScheduled(actions)
	}
}

func (m *MultiSink) RecordBatchCancelled() {
	for _, s := range m.sinks {
		s.RecordBatchCancelled()
	}
}

func (m *MultiSink) RecordJanitorDeletions(n int) {
	for _, s := range m.sinks {
		s.RecordJanitorDeletions(n)
	}
}
