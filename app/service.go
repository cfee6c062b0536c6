package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	apiavailability "github.com/kilianp07/fleetops/api/availability"
	apitrips "github.com/kilianp07/fleetops/api/trips"
	"github.com/kilianp07/fleetops/config"
	"github.com/kilianp07/fleetops/core/availability"
	"github.com/kilianp07/fleetops/core/lifecycle"
	coremetrics "github.com/kilianp07/fleetops/core/metrics"
	"github.com/kilianp07/fleetops/core/schedule"
	"github.com/kilianp07/fleetops/infra/logger"
	"github.com/kilianp07/fleetops/infra/metrics"
	"github.com/kilianp07/fleetops/infra/notify"
	"github.com/kilianp07/fleetops/infra/queue"
	"github.com/kilianp07/fleetops/infra/store"
	"github.com/kilianp07/fleetops/internal/eventbus"
)

// Service wires the stores, the scheduling pipeline and the HTTP API.
type Service struct {
	cfg      *config.Config
	store    *store.SQLiteStore
	queue    *queue.SQLiteQueue
	executor *schedule.Executor
	notifier *notify.MQTTNotifier
	bus      eventbus.EventBus
	handler  http.Handler
	log      logger.Logger
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logger.Configure(cfg.Logging)
	log := logger.New("service")

	entities, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.Store.Path, err)
	}
	actions, err := queue.Open(cfg.Queue.Path)
	if err != nil {
		_ = entities.Close()
		return nil, fmt.Errorf("open queue %s: %w", cfg.Queue.Path, err)
	}

	var sinks []coremetrics.Sink
	if cfg.Metrics.PromEnabled {
		sink, err := metrics.NewPromSink(nil)
		if err != nil {
			_ = entities.Close()
			_ = actions.Close()
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Metrics.InfluxEnabled {
		sinks = append(sinks, metrics.NewInfluxSinkWithFallback(cfg.Metrics.Influx, logger.New("influx-sink")))
	}
	var sink coremetrics.Sink = coremetrics.NopSink{}
	if len(sinks) == 1 {
		sink = sinks[0]
	} else if len(sinks) > 1 {
		sink = metrics.NewMultiSink(sinks...)
	}

	bus := eventbus.New()
	sched := schedule.NewScheduler(actions, logger.New("scheduler"), sink)
	janitor := schedule.NewJanitor(actions, logger.New("janitor"), sink)
	machine := lifecycle.NewStateMachine(entities, bus, logger.New("lifecycle"), sink)
	coord := lifecycle.NewCoordinator(entities, sched, janitor, bus, logger.New("coordinator"))
	executor := schedule.NewExecutor(actions, machine, cfg.Executor, logger.New("executor"))
	engine := availability.NewEngine(entities, entities, entities, logger.New("availability"))

	mux := http.NewServeMux()
	apiavailability.NewHandler(engine, logger.New("api-availability")).Register(mux)
	apitrips.NewHandler(entities, engine, coord, bus, logger.New("api-trips")).Register(mux)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	svc := &Service{
		cfg:      cfg,
		store:    entities,
		queue:    actions,
		executor: executor,
		bus:      bus,
		handler:  mux,
		log:      log,
	}
	if cfg.Notify.Enabled {
		notifier, err := notify.NewMQTTNotifier(cfg.Notify, logger.New("notifier"))
		if err != nil {
			// Notifications are optional; the scheduler must come up without
			// a broker.
			log.Errorf("mqtt notifier disabled: %v", err)
		} else {
			svc.notifier = notifier
		}
	}
	return svc, nil
}

// Handler exposes the API routes, mainly for tests.
func (s *Service) Handler() http.Handler { return s.handler }

// Run starts the executor, the notifier pump and the HTTP servers, blocking
// until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	go s.executor.Run(ctx)
	if s.notifier != nil {
		go s.notifier.Run(ctx, s.bus)
	}
	if s.cfg.Metrics.PromEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, s.cfg.Metrics.PromAddress, s.log); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	srv := &http.Server{Addr: s.cfg.HTTP.Address, Handler: s.handler}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Errorf("api server shutdown: %v", err)
		}
	}()
	s.log.Infof("listening on %s", s.cfg.HTTP.Address)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	if s.notifier != nil {
		s.notifier.Close()
	}
	s.bus.Close()
	if err := s.queue.Close(); err != nil {
		return err
	}
	return s.store.Close()
}
