package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/kilianp07/fleetops/core/model"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "fleet.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedCompany(t *testing.T, s *SQLiteStore) model.Company {
	t.Helper()
	c, err := s.CreateCompany(context.Background(), model.Company{Name: "Acme Logistics"})
	if err != nil {
		t.Fatalf("create company: %v", err)
	}
	return c
}

func TestTripRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	c := seedCompany(t, s)

	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	trip, err := s.CreateTrip(ctx, model.Trip{
		CompanyID:   c.ID,
		Destination: "Lyon",
		StartAt:     start,
		EndAt:       start.Add(4 * time.Hour),
		Status:      model.TripScheduled,
	})
	if err != nil {
		t.Fatalf("create trip: %v", err)
	}
	if trip.ID == 0 {
		t.Fatal("expected assigned id")
	}

	got, err := s.FindTrip(ctx, trip.ID)
	if err != nil {
		t.Fatalf("find trip: %v", err)
	}
	if !got.StartAt.Equal(start) || !got.EndAt.Equal(start.Add(4*time.Hour)) {
		t.Fatalf("times mangled: start=%s end=%s", got.StartAt, got.EndAt)
	}
	if got.Status != model.TripScheduled || got.Destination != "Lyon" {
		t.Fatalf("unexpected trip %+v", got)
	}
}

func TestOpenEndedTripKeepsZeroEnd(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	c := seedCompany(t, s)

	trip, err := s.CreateTrip(ctx, model.Trip{
		CompanyID: c.ID,
		StartAt:   time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		Status:    model.TripScheduled,
	})
	if err != nil {
		t.Fatalf("create trip: %v", err)
	}
	got, err := s.FindTrip(ctx, trip.ID)
	if err != nil {
		t.Fatalf("find trip: %v", err)
	}
	if !got.EndAt.IsZero() {
		t.Fatalf("expected zero end, got %s", got.EndAt)
	}
}

func TestFindTripNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.FindTrip(context.Background(), 42)
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSchedulableFilters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	c := seedCompany(t, s)

	mk := func(name string, status model.DriverStatus, active bool) {
		if _, err := s.CreateDriver(ctx, model.Driver{
			CompanyID: c.ID, Name: name, Status: status, IsActive: active,
		}); err != nil {
			t.Fatalf("create driver %s: %v", name, err)
		}
	}
	mk("Zoe", model.DriverActive, true)
	mk("Alex", model.DriverActive, true)
	mk("Ben", model.DriverSuspended, true)
	mk("Cal", model.DriverActive, false)

	drivers, err := s.FindSchedulableDrivers(ctx, c.ID)
	if err != nil {
		t.Fatalf("find drivers: %v", err)
	}
	if len(drivers) != 2 || drivers[0].Name != "Alex" || drivers[1].Name != "Zoe" {
		t.Fatalf("expected [Alex Zoe], got %+v", drivers)
	}

	if _, err := s.CreateVehicle(ctx, model.Vehicle{
		CompanyID: c.ID, Brand: "Renault", Model: "Master",
		Status: model.VehicleAvailable, IsActive: true,
	}); err != nil {
		t.Fatalf("create vehicle: %v", err)
	}
	if _, err := s.CreateVehicle(ctx, model.Vehicle{
		CompanyID: c.ID, Brand: "Iveco", Model: "Daily",
		Status: model.VehicleMaintenance, IsActive: true,
	}); err != nil {
		t.Fatalf("create vehicle: %v", err)
	}
	vehicles, err := s.FindSchedulableVehicles(ctx, c.ID)
	if err != nil {
		t.Fatalf("find vehicles: %v", err)
	}
	if len(vehicles) != 1 || vehicles[0].Brand != "Renault" {
		t.Fatalf("expected only the available Renault, got %+v", vehicles)
	}
}

func TestFindActiveOverlapping(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	c := seedCompany(t, s)

	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	mk := func(offset time.Duration, dur time.Duration, status model.TripStatus) model.Trip {
		trip := model.Trip{CompanyID: c.ID, StartAt: base.Add(offset), Status: status}
		if dur > 0 {
			trip.EndAt = trip.StartAt.Add(dur)
		}
		out, err := s.CreateTrip(ctx, trip)
		if err != nil {
			t.Fatalf("create trip: %v", err)
		}
		return out
	}
	inWindow := mk(0, 2*time.Hour, model.TripScheduled)
	mk(0, 2*time.Hour, model.TripCompleted)              // wrong status
	mk(6*time.Hour, time.Hour, model.TripInProgress)     // outside window
	openEnded := mk(30*time.Minute, 0, model.TripInProgress)

	w := model.Window{Start: base.Add(time.Hour), End: base.Add(3 * time.Hour)}
	got, err := s.FindActiveOverlapping(ctx, c.ID, w, 0)
	if err != nil {
		t.Fatalf("overlap query: %v", err)
	}
	if len(got) != 2 || got[0].ID != inWindow.ID || got[1].ID != openEnded.ID {
		t.Fatalf("expected [%d %d], got %+v", inWindow.ID, openEnded.ID, got)
	}

	// Excluding the first trip leaves the open-ended one.
	got, err = s.FindActiveOverlapping(ctx, c.ID, w, inWindow.ID)
	if err != nil {
		t.Fatalf("overlap query: %v", err)
	}
	if len(got) != 1 || got[0].ID != openEnded.ID {
		t.Fatalf("expected only %d, got %+v", openEnded.ID, got)
	}
}

func TestCountActiveTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	c := seedCompany(t, s)

	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	for _, st := range []model.TripStatus{
		model.TripScheduled, model.TripInProgress, model.TripCompleted, model.TripCancelled,
	} {
		if _, err := s.CreateTrip(ctx, model.Trip{CompanyID: c.ID, StartAt: start, Status: st}); err != nil {
			t.Fatalf("create trip: %v", err)
		}
	}
	n, err := s.CountActiveTrips(ctx, c.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 active trips, got %d", n)
	}
}

func TestSetTripBatchIDLeavesOtherFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	c := seedCompany(t, s)

	trip, err := s.CreateTrip(ctx, model.Trip{
		CompanyID: c.ID,
		StartAt:   time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		Status:    model.TripScheduled,
		Notes:     "keep me",
	})
	if err != nil {
		t.Fatalf("create trip: %v", err)
	}
	if err := s.SetTripBatchID(ctx, trip.ID, "batch-1"); err != nil {
		t.Fatalf("set batch id: %v", err)
	}
	got, err := s.FindTrip(ctx, trip.ID)
	if err != nil {
		t.Fatalf("find trip: %v", err)
	}
	if got.BatchID != "batch-1" || got.Notes != "keep me" {
		t.Fatalf("unexpected trip after batch save: %+v", got)
	}
}

func TestApplyTransitionIsTransactional(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	c := seedCompany(t, s)

	d, err := s.CreateDriver(ctx, model.Driver{
		CompanyID: c.ID, Name: "Alex", Status: model.DriverActive, IsActive: true,
	})
	if err != nil {
		t.Fatalf("create driver: %v", err)
	}
	v, err := s.CreateVehicle(ctx, model.Vehicle{
		CompanyID: c.ID, Brand: "Renault", Model: "Master",
		Status: model.VehicleAvailable, IsActive: true,
	})
	if err != nil {
		t.Fatalf("create vehicle: %v", err)
	}
	trip, err := s.CreateTrip(ctx, model.Trip{
		CompanyID: c.ID, DriverID: d.ID, VehicleID: v.ID,
		StartAt: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		Status:  model.TripScheduled,
	})
	if err != nil {
		t.Fatalf("create trip: %v", err)
	}

	trip.Status = model.TripInProgress
	d.Status, d.IsActive = model.DriverInactive, false
	v.Status = model.VehicleInUse
	if err := s.ApplyTransition(ctx, trip, &d, &v); err != nil {
		t.Fatalf("apply transition: %v", err)
	}

	gotTrip, _ := s.FindTrip(ctx, trip.ID)
	gotDriver, _ := s.FindDriver(ctx, d.ID)
	gotVehicle, _ := s.FindVehicle(ctx, v.ID)
	if gotTrip.Status != model.TripInProgress {
		t.Fatalf("trip status not applied: %s", gotTrip.Status)
	}
	if gotDriver.Status != model.DriverInactive || gotDriver.IsActive {
		t.Fatalf("driver flip not applied: %+v", gotDriver)
	}
	if gotVehicle.Status != model.VehicleInUse {
		t.Fatalf("vehicle flip not applied: %+v", gotVehicle)
	}
}

func TestUpdateTripMissing(t *testing.T) {
	s := openTestStore(t)
	err := s.UpdateTrip(context.Background(), model.Trip{ID: 99, StartAt: time.Now(), Status: model.TripScheduled})
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
