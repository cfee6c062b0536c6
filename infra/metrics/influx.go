package metrics

import (
	"context"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/fleetops/core/metrics"
	"github.com/kilianp07/fleetops/core/logger"
)

// InfluxConfig holds the InfluxDB connection settings for the sink.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxSink writes scheduling events to an InfluxDB instance using the
// official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a sink for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig, log logger.Logger) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      log,
	}
}

// NewInfluxSinkWithFallback pings the InfluxDB instance and returns a
// NopSink when the health check fails, so a missing Influx never blocks
// the scheduler.
func NewInfluxSinkWithFallback(cfg InfluxConfig, log logger.Logger) coremetrics.Sink {
	sink := NewInfluxSink(cfg, log)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			log.Errorf("influx health check error: %v", err)
		} else {
			log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the underlying client.
func (s *InfluxSink) Close() {
	s.client.Close()
}

// RecordTransition writes one transition attempt as a point.
func (s *InfluxSink) RecordTransition(kind, outcome string) {
	p := write.NewPointWithMeasurement("trip_transition").
		AddTag("kind", kind).
		AddTag("outcome", outcome).
		AddField("count", 1).
		SetTime(time.Now())
	s.write(p)
}

// RecordBatchScheduled writes one batch-scheduled point.
func (s *InfluxSink) RecordBatchScheduled(actions int) {
	p := write.NewPointWithMeasurement("batch_scheduled").
		AddField("actions", actions).
		SetTime(time.Now())
	s.write(p)
}

// RecordBatchCancelled writes one batch-cancelled point.
func (s *InfluxSink) RecordBatchCancelled() {
	p := write.NewPointWithMeasurement("batch_cancelled").
		AddField("count", 1).
		SetTime(time.Now())
	s.write(p)
}

// RecordJanitorDeletions writes the number of actions removed by cleanup.
func (s *InfluxSink) RecordJanitorDeletions(n int) {
	p := write.NewPointWithMeasurement("janitor_deletions").
		AddField("count", n).
		SetTime(time.Now())
	s.write(p)
}

func (s *InfluxSink) write(p *write.Point) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.writeAPI.WritePoint(ctx, p); err != nil {
		s.log.Errorf("influx write: %v", err)
	}
}
