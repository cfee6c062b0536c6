package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetops/config"
	"github.com/kilianp07/fleetops/core/model"
)

func newTestService(t *testing.T) (*Service, *httptest.Server) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Store.Path = filepath.Join(dir, "fleet.db")
	cfg.Queue.Path = filepath.Join(dir, "queue.db")
	cfg.HTTP.Address = "127.0.0.1:0"
	cfg.Executor.PollInterval = 20 * time.Millisecond

	svc, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, svc.Close()) })

	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(srv.Close)
	return svc, srv
}

func TestServiceStartsPastDueTrip(t *testing.T) {
	svc, srv := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()

	company, err := svc.store.CreateCompany(ctx, model.Company{Name: "Acme"})
	require.NoError(t, err)
	driver, err := svc.store.CreateDriver(ctx, model.Driver{
		CompanyID: company.ID, Name: "Alex", Status: model.DriverActive, IsActive: true,
	})
	require.NoError(t, err)
	vehicle, err := svc.store.CreateVehicle(ctx, model.Vehicle{
		CompanyID: company.ID, Brand: "Renault", Model: "Master",
		Status: model.VehicleAvailable, IsActive: true,
	})
	require.NoError(t, err)

	// A trip whose start time has already passed fires immediately.
	start := time.Now().Add(-time.Minute).UTC().Truncate(time.Second)
	body, err := json.Marshal(map[string]any{
		"company_id": company.ID,
		"driver_id":  driver.ID,
		"vehicle_id": vehicle.ID,
		"start_at":   start,
		"end_at":     start.Add(2 * time.Hour),
	})
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/api/trips", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	var trip model.Trip
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&trip))
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, trip.BatchID)

	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := svc.store.FindTrip(ctx, trip.ID)
		require.NoError(t, err)
		if got.Status == model.TripInProgress {
			break
		}
		require.True(t, time.Now().Before(deadline), "trip never started, status %s", got.Status)
		time.Sleep(20 * time.Millisecond)
	}

	gotDriver, err := svc.store.FindDriver(ctx, driver.ID)
	require.NoError(t, err)
	require.Equal(t, model.DriverInactive, gotDriver.Status)
	require.False(t, gotDriver.IsActive)
	gotVehicle, err := svc.store.FindVehicle(ctx, vehicle.ID)
	require.NoError(t, err)
	require.Equal(t, model.VehicleInUse, gotVehicle.Status)
}

func TestServiceAvailabilityEndToEnd(t *testing.T) {
	svc, srv := newTestService(t)
	ctx := context.Background()

	company, err := svc.store.CreateCompany(ctx, model.Company{Name: "Acme"})
	require.NoError(t, err)
	for _, name := range []string{"Alex", "Dana"} {
		_, err := svc.store.CreateDriver(ctx, model.Driver{
			CompanyID: company.ID, Name: name, Status: model.DriverActive, IsActive: true,
		})
		require.NoError(t, err)
	}

	start := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	url := fmt.Sprintf("%s/api/availability/summary?company_id=%d&start=%s&end=%s",
		srv.URL, company.ID, start.Format(time.RFC3339), start.Add(time.Hour).Format(time.RFC3339))
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { require.NoError(t, resp.Body.Close()) }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summary struct {
		Drivers struct {
			Available  int     `json:"available"`
			Total      int     `json:"total"`
			Percentage float64 `json:"percentage"`
		} `json:"drivers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	require.Equal(t, 2, summary.Drivers.Available)
	require.Equal(t, 2, summary.Drivers.Total)
	require.Equal(t, 100.0, summary.Drivers.Percentage)
}
