package trips

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/kilianp07/fleetops/core/availability"
	"github.com/kilianp07/fleetops/core/lifecycle"
	"github.com/kilianp07/fleetops/core/logger"
	"github.com/kilianp07/fleetops/core/model"
	"github.com/kilianp07/fleetops/core/schedule"
	"github.com/kilianp07/fleetops/internal/eventbus"
)

type memStore struct {
	mu      sync.Mutex
	nextID  int64
	trips   map[int64]model.Trip
	drivers map[int64]model.Driver
}

func newMemStore() *memStore {
	return &memStore{trips: map[int64]model.Trip{}, drivers: map[int64]model.Driver{}}
}

func (m *memStore) CreateTrip(_ context.Context, t model.Trip) (model.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	t.ID = m.nextID
	m.trips[t.ID] = t
	return t, nil
}

func (m *memStore) UpdateTrip(_ context.Context, t model.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trips[t.ID]; !ok {
		return model.ErrNotFound
	}
	m.trips[t.ID] = t
	return nil
}

func (m *memStore) DeleteTrip(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trips[id]; !ok {
		return model.ErrNotFound
	}
	delete(m.trips, id)
	return nil
}

func (m *memStore) FindTrip(_ context.Context, id int64) (model.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok {
		return model.Trip{}, model.ErrNotFound
	}
	return t, nil
}

func (m *memStore) CountActiveTrips(_ context.Context, companyID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.trips {
		if t.CompanyID == companyID && t.Status.Occupying() {
			n++
		}
	}
	return n, nil
}

func (m *memStore) SetTripBatchID(_ context.Context, tripID int64, batchID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[tripID]
	if !ok {
		return model.ErrNotFound
	}
	t.BatchID = batchID
	m.trips[tripID] = t
	return nil
}

func (m *memStore) FindSchedulableDrivers(_ context.Context, companyID int64) ([]model.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Driver
	for _, d := range m.drivers {
		if d.CompanyID == companyID && d.Schedulable() {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memStore) FindDriver(_ context.Context, id int64) (model.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return model.Driver{}, model.ErrNotFound
	}
	return d, nil
}

func (m *memStore) FindSchedulableVehicles(context.Context, int64) ([]model.Vehicle, error) {
	return nil, nil
}

func (m *memStore) FindVehicle(context.Context, int64) (model.Vehicle, error) {
	return model.Vehicle{}, model.ErrNotFound
}

func (m *memStore) FindActiveOverlapping(_ context.Context, companyID int64, w model.Window, excludeID int64) ([]model.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Trip
	for _, t := range m.trips {
		if t.CompanyID != companyID || t.ID == excludeID || !t.Status.Occupying() {
			continue
		}
		if w.OverlapsTrip(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

type memQueue struct {
	mu        sync.Mutex
	nextID    int64
	batches   map[string]schedule.Batch
	cancelled map[string]bool
	actions   map[int64]schedule.Action
}

func newMemQueue() *memQueue {
	return &memQueue{
		batches:   map[string]schedule.Batch{},
		cancelled: map[string]bool{},
		actions:   map[int64]schedule.Action{},
	}
}

func (q *memQueue) Enqueue(_ context.Context, b schedule.Batch, actions []schedule.Action) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.batches[b.ID] = b
	for _, a := range actions {
		q.nextID++
		a.ID = q.nextID
		q.actions[a.ID] = a
	}
	return nil
}

func (q *memQueue) CancelBatch(_ context.Context, batchID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled[batchID] = true
	return nil
}

func (q *memQueue) ClaimDue(context.Context, time.Time, int) ([]schedule.Action, error) {
	return nil, nil
}

func (q *memQueue) MarkDone(_ context.Context, actionID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.actions, actionID)
	return nil
}

func (q *memQueue) Release(context.Context, int64, time.Time) error { return nil }

func (q *memQueue) DeleteBatch(_ context.Context, batchID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.batches[batchID]
	delete(q.batches, batchID)
	for id, a := range q.actions {
		if a.BatchID == batchID {
			delete(q.actions, id)
		}
	}
	return ok, nil
}

func (q *memQueue) DeletePendingByTrip(_ context.Context, tripID int64) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for id, a := range q.actions {
		if a.TripID == tripID {
			delete(q.actions, id)
			n++
		}
	}
	return n, nil
}

func (q *memQueue) NextDue(context.Context) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func (q *memQueue) actionCountByTrip(tripID int64) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, a := range q.actions {
		if a.TripID == tripID {
			n++
		}
	}
	return n
}

type tripEnv struct {
	store *memStore
	queue *memQueue
	srv   *httptest.Server
}

func newTripEnv(t *testing.T) *tripEnv {
	t.Helper()
	store := newMemStore()
	queue := newMemQueue()
	log := logger.Nop{}
	bus := eventbus.New()
	t.Cleanup(bus.Close)

	sched := schedule.NewScheduler(queue, log, nil)
	janitor := schedule.NewJanitor(queue, log, nil)
	coord := lifecycle.NewCoordinator(store, sched, janitor, bus, log)
	engine := availability.NewEngine(store, store, store, log)

	mux := http.NewServeMux()
	NewHandler(store, engine, coord, bus, log).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &tripEnv{store: store, queue: queue, srv: srv}
}

func (e *tripEnv) seedDriver(id int64) {
	e.store.drivers[id] = model.Driver{
		ID: id, CompanyID: 1, Name: fmt.Sprintf("driver-%d", id),
		Status: model.DriverActive, IsActive: true,
	}
}

func postTrip(t *testing.T, srv *httptest.Server, req tripRequest) (*http.Response, model.Trip) {
	t.Helper()
	body, _ := json.Marshal(req)
	resp, err := http.Post(srv.URL+"/api/trips", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post trip: %v", err)
	}
	var trip model.Trip
	if resp.StatusCode == http.StatusCreated {
		if err := json.NewDecoder(resp.Body).Decode(&trip); err != nil {
			t.Fatalf("decode trip: %v", err)
		}
	}
	_ = resp.Body.Close()
	return resp, trip
}

func putTrip(t *testing.T, srv *httptest.Server, id int64, req tripRequest) *http.Response {
	t.Helper()
	body, _ := json.Marshal(req)
	httpReq, err := http.NewRequest(http.MethodPut, fmt.Sprintf("%s/api/trips/%d", srv.URL, id), bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		t.Fatalf("put trip: %v", err)
	}
	return resp
}

func TestCreateTripSchedulesBatch(t *testing.T) {
	env := newTripEnv(t)
	env.seedDriver(1)
	start := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	resp, trip := postTrip(t, env.srv, tripRequest{
		CompanyID: 1, DriverID: 1, Destination: "Lyon",
		StartAt: start, EndAt: start.Add(2 * time.Hour),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if trip.Status != model.TripScheduled {
		t.Fatalf("expected scheduled default, got %s", trip.Status)
	}
	if trip.BatchID == "" {
		t.Fatal("expected batch id recorded on trip")
	}
	if n := env.queue.actionCountByTrip(trip.ID); n != 2 {
		t.Fatalf("expected 2 enqueued actions, got %d", n)
	}
}

func TestCreateCompletedTripGetsNoActions(t *testing.T) {
	env := newTripEnv(t)
	start := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	resp, trip := postTrip(t, env.srv, tripRequest{
		CompanyID: 1, StartAt: start, Status: string(model.TripCompleted),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if trip.BatchID != "" {
		t.Fatalf("completed trip must not get a batch, got %q", trip.BatchID)
	}
	if n := env.queue.actionCountByTrip(trip.ID); n != 0 {
		t.Fatalf("expected no actions, got %d", n)
	}
}

func TestCreateRejectsBusyDriver(t *testing.T) {
	env := newTripEnv(t)
	env.seedDriver(1)
	start := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	resp, _ := postTrip(t, env.srv, tripRequest{
		CompanyID: 1, DriverID: 1, StartAt: start, EndAt: start.Add(2 * time.Hour),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first create: status %d", resp.StatusCode)
	}

	resp2, _ := postTrip(t, env.srv, tripRequest{
		CompanyID: 1, DriverID: 1, StartAt: start.Add(time.Hour), EndAt: start.Add(3 * time.Hour),
	})
	if resp2.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for overlapping driver, got %d", resp2.StatusCode)
	}
}

func TestUpdateRescheduleReplacesBatch(t *testing.T) {
	env := newTripEnv(t)
	env.seedDriver(1)
	start := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	_, trip := postTrip(t, env.srv, tripRequest{
		CompanyID: 1, DriverID: 1, StartAt: start, EndAt: start.Add(2 * time.Hour),
	})
	firstBatch := trip.BatchID

	resp := putTrip(t, env.srv, trip.ID, tripRequest{
		CompanyID: 1, DriverID: 1, StartAt: start.Add(4 * time.Hour), EndAt: start.Add(6 * time.Hour),
	})
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var updated model.Trip
	if err := json.NewDecoder(resp.Body).Decode(&updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if updated.BatchID == "" || updated.BatchID == firstBatch {
		t.Fatalf("expected fresh batch, got %q (was %q)", updated.BatchID, firstBatch)
	}
	if n := env.queue.actionCountByTrip(trip.ID); n != 2 {
		t.Fatalf("expected exactly 2 live actions after reschedule, got %d", n)
	}
}

func TestUpdateInProgressTripBlocked(t *testing.T) {
	env := newTripEnv(t)
	start := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	trip, err := env.store.CreateTrip(context.Background(), model.Trip{
		CompanyID: 1, StartAt: start, EndAt: start.Add(3 * time.Hour), Status: model.TripInProgress,
	})
	if err != nil {
		t.Fatalf("seed trip: %v", err)
	}

	resp := putTrip(t, env.srv, trip.ID, tripRequest{
		CompanyID: 1, StartAt: start.Add(time.Hour), EndAt: start.Add(3 * time.Hour),
	})
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for in-progress edit, got %d", resp.StatusCode)
	}

	// Fields outside the guard may still change.
	resp2 := putTrip(t, env.srv, trip.ID, tripRequest{
		CompanyID: 1, StartAt: start, EndAt: start.Add(3 * time.Hour), Notes: "running late",
	})
	defer func() { _ = resp2.Body.Close() }()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("notes edit should pass, got %d", resp2.StatusCode)
	}
}

func TestUpdateToCancelledClearsScheduling(t *testing.T) {
	env := newTripEnv(t)
	start := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	_, trip := postTrip(t, env.srv, tripRequest{
		CompanyID: 1, StartAt: start, EndAt: start.Add(2 * time.Hour),
	})
	if trip.BatchID == "" {
		t.Fatal("expected a batch to cancel")
	}

	resp := putTrip(t, env.srv, trip.ID, tripRequest{
		CompanyID: 1, StartAt: start, EndAt: start.Add(2 * time.Hour),
		Status: string(model.TripCancelled),
	})
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var updated model.Trip
	if err := json.NewDecoder(resp.Body).Decode(&updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if updated.BatchID != "" {
		t.Fatalf("expected cleared batch id, got %q", updated.BatchID)
	}
	if n := env.queue.actionCountByTrip(trip.ID); n != 0 {
		t.Fatalf("expected all actions retracted, got %d", n)
	}
}

func TestDeleteTripRetractsActions(t *testing.T) {
	env := newTripEnv(t)
	start := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	_, trip := postTrip(t, env.srv, tripRequest{
		CompanyID: 1, StartAt: start, EndAt: start.Add(2 * time.Hour),
	})

	req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/api/trips/%d", env.srv.URL, trip.ID), nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if n := env.queue.actionCountByTrip(trip.ID); n != 0 {
		t.Fatalf("expected actions swept, got %d", n)
	}
	if _, err := env.store.FindTrip(context.Background(), trip.ID); err == nil {
		t.Fatal("trip should be gone")
	}
}

func TestActiveCountEndpoint(t *testing.T) {
	env := newTripEnv(t)
	start := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	postTrip(t, env.srv, tripRequest{CompanyID: 1, StartAt: start, EndAt: start.Add(time.Hour)})
	postTrip(t, env.srv, tripRequest{
		CompanyID: 1, StartAt: start.Add(2 * time.Hour), EndAt: start.Add(3 * time.Hour),
		Status: string(model.TripCompleted),
	})

	resp, err := http.Get(env.srv.URL + "/api/trips/active_count?company_id=1")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var body map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["active_trips"] != 1 {
		t.Fatalf("expected 1 active trip, got %d", body["active_trips"])
	}
}

func TestGetMissingTrip(t *testing.T) {
	env := newTripEnv(t)
	resp, err := http.Get(env.srv.URL + "/api/trips/404")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
