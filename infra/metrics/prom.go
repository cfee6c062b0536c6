package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PromSink exports scheduling and lifecycle events as Prometheus metrics.
type PromSink struct {
	transitions      *prometheus.CounterVec
	batchesScheduled prometheus.Counter
	batchActions     prometheus.Counter
	batchesCancelled prometheus.Counter
	janitorDeleted   prometheus.Counter
}

// NewPromSink registers the fleet metrics on the provided registerer. If reg
// is nil, the default registerer is used. Already-registered collectors are
// reused so the sink can be constructed more than once per process.
func NewPromSink(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_trip_transitions_total",
			Help: "Trip lifecycle transition attempts by kind and outcome",
		}, []string{"kind", "outcome"}),
		batchesScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleet_batches_scheduled_total",
			Help: "Action batches scheduled",
		}),
		batchActions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleet_batch_actions_total",
			Help: "Deferred actions enqueued across all batches",
		}),
		batchesCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleet_batches_cancelled_total",
			Help: "Action batches retracted before execution",
		}),
		janitorDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleet_janitor_deleted_actions_total",
			Help: "Pending actions removed by cleanup",
		}),
	}

	if err := registerCounterVec(reg, &s.transitions); err != nil {
		return nil, err
	}
	for _, c := range []*prometheus.Counter{
		&s.batchesScheduled, &s.batchActions, &s.batchesCancelled, &s.janitorDeleted,
	} {
		if err := registerCounter(reg, c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func registerCounterVec(reg prometheus.Registerer, c **prometheus.CounterVec) error {
	if err := reg.Register(*c); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return err
		}
		*c = are.ExistingCollector.(*prometheus.CounterVec)
	}
	return nil
}

func registerCounter(reg prometheus.Registerer, c *prometheus.Counter) error {
	if err := reg.Register(*c); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return err
		}
		*c = are.ExistingCollector.(prometheus.Counter)
	}
	return nil
}

// RecordTransition counts one transition attempt by kind and outcome.
func (s *PromSink) RecordTransition(kind, outcome string) {
	s.transitions.WithLabelValues(kind, outcome).Inc()
}

// RecordBatchScheduled counts a new batch and its action count.
func (s *PromSink) RecordBatchScheduled(actions int) {
	s.batchesScheduled.Inc()
	s.batchActions.Add(float64(actions))
}

// RecordBatchCancelled counts a batch retraction.
func (s *PromSink) RecordBatchCancelled() {
	s.batchesCancelled.Inc()
}

// RecordJanitorDeletions counts pending actions removed by cleanup.
func (s *PromSink) RecordJanitorDeletions(n int) {
	s.janitorDeleted.Add(float64(n))
}
