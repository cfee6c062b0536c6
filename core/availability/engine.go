package availability

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/kilianp07/fleetops/core/logger"
	"github.com/kilianp07/fleetops/core/model"
)

// DriverStore provides read access to drivers.
type DriverStore interface {
	// FindSchedulableDrivers returns the company's drivers passing the
	// status/is_active gate, ordered by name.
	FindSchedulableDrivers(ctx context.Context, companyID int64) ([]model.Driver, error)
	FindDriver(ctx context.Context, id int64) (model.Driver, error)
}

// VehicleStore provides read access to vehicles.
type VehicleStore interface {
	// FindSchedulableVehicles returns the company's vehicles passing the
	// status/is_active gate, ordered by brand then model.
	FindSchedulableVehicles(ctx context.Context, companyID int64) ([]model.Vehicle, error)
	FindVehicle(ctx context.Context, id int64) (model.Vehicle, error)
}

// TripStore provides read access to trips occupying resources.
type TripStore interface {
	// FindActiveOverlapping returns trips in an occupying status whose
	// interval overlaps w, ordered by start time. excludeID removes one
	// trip from consideration; zero means no exclusion.
	FindActiveOverlapping(ctx context.Context, companyID int64, w model.Window, excludeID int64) ([]model.Trip, error)
}

// Engine answers availability queries for a company's drivers and vehicles.
// It is a pure reader: it never mutates status fields.
type Engine struct {
	drivers  DriverStore
	vehicles VehicleStore
	trips    TripStore
	log      logger.Logger
}

// NewEngine creates an Engine. A nil log defaults to a no-op logger.
func NewEngine(drivers DriverStore, vehicles VehicleStore, trips TripStore, log logger.Logger) *Engine {
	if log == nil {
		log = logger.Nop{}
	}
	return &Engine{drivers: drivers, vehicles: vehicles, trips: trips, log: log}
}

// AvailableDrivers returns the company's schedulable drivers with no
// occupying trip overlapping w, ordered by name.
func (e *Engine) AvailableDrivers(ctx context.Context, companyID int64, w model.Window, excludeTripID int64) ([]model.Driver, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	busy, err := e.busySets(ctx, companyID, w, excludeTripID)
	if err != nil {
		return nil, err
	}
	drivers, err := e.drivers.FindSchedulableDrivers(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("list drivers: %w", err)
	}
	out := make([]model.Driver, 0, len(drivers))
	for _, d := range drivers {
		if !busy.drivers[d.ID] {
			out = append(out, d)
		}
	}
	return out, nil
}

// AvailableVehicles returns the company's schedulable vehicles with no
// occupying trip overlapping w, ordered by brand then model.
func (e *Engine) AvailableVehicles(ctx context.Context, companyID int64, w model.Window, excludeTripID int64) ([]model.Vehicle, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	busy, err := e.busySets(ctx, companyID, w, excludeTripID)
	if err != nil {
		return nil, err
	}
	vehicles, err := e.vehicles.FindSchedulableVehicles(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}
	out := make([]model.Vehicle, 0, len(vehicles))
	for _, v := range vehicles {
		if !busy.vehicles[v.ID] {
			out = append(out, v)
		}
	}
	return out, nil
}

// IsDriverAvailable reports whether a single driver passes the gate and has
// no overlapping occupying trip. A missing driver is unavailable, not an
// error.
func (e *Engine) IsDriverAvailable(ctx context.Context, driverID int64, w model.Window, excludeTripID int64) (bool, error) {
	if err := w.Validate(); err != nil {
		return false, err
	}
	d, err := e.drivers.FindDriver(ctx, driverID)
	if errors.Is(err, model.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find driver %d: %w", driverID, err)
	}
	if !d.Schedulable() {
		return false, nil
	}
	trips, err := e.trips.FindActiveOverlapping(ctx, d.CompanyID, w, excludeTripID)
	if err != nil {
		return false, fmt.Errorf("overlapping trips: %w", err)
	}
	for _, t := range trips {
		if t.DriverID == driverID {
			return false, nil
		}
	}
	return true, nil
}

// IsVehicleAvailable is the vehicle counterpart of IsDriverAvailable.
func (e *Engine) IsVehicleAvailable(ctx context.Context, vehicleID int64, w model.Window, excludeTripID int64) (bool, error) {
	if err := w.Validate(); err != nil {
		return false, err
	}
	v, err := e.vehicles.FindVehicle(ctx, vehicleID)
	if errors.Is(err, model.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find vehicle %d: %w", vehicleID, err)
	}
	if !v.Schedulable() {
		return false, nil
	}
	trips, err := e.trips.FindActiveOverlapping(ctx, v.CompanyID, w, excludeTripID)
	if err != nil {
		return false, fmt.Errorf("overlapping trips: %w", err)
	}
	for _, t := range trips {
		if t.VehicleID == vehicleID {
			return false, nil
		}
	}
	return true, nil
}

// ResourceSummary aggregates availability for one resource kind.
type ResourceSummary struct {
	Available  int     `json:"available"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// Summary aggregates driver and vehicle availability for a window.
type Summary struct {
	Drivers  ResourceSummary `json:"drivers"`
	Vehicles ResourceSummary `json:"vehicles"`
}

// Summary computes available/total counts and a percentage rounded to one
// decimal. A total of zero yields zero percent.
func (e *Engine) Summary(ctx context.Context, companyID int64, w model.Window) (Summary, error) {
	if err := w.Validate(); err != nil {
		return Summary{}, err
	}
	busy, err := e.busySets(ctx, companyID, w, 0)
	if err != nil {
		return Summary{}, err
	}
	drivers, err := e.drivers.FindSchedulableDrivers(ctx, companyID)
	if err != nil {
		return Summary{}, fmt.Errorf("list drivers: %w", err)
	}
	vehicles, err := e.vehicles.FindSchedulableVehicles(ctx, companyID)
	if err != nil {
		return Summary{}, fmt.Errorf("list vehicles: %w", err)
	}
	var s Summary
	s.Drivers.Total = len(drivers)
	for _, d := range drivers {
		if !busy.drivers[d.ID] {
			s.Drivers.Available++
		}
	}
	s.Vehicles.Total = len(vehicles)
	for _, v := range vehicles {
		if !busy.vehicles[v.ID] {
			s.Vehicles.Available++
		}
	}
	s.Drivers.Percentage = percentage(s.Drivers.Available, s.Drivers.Total)
	s.Vehicles.Percentage = percentage(s.Vehicles.Available, s.Vehicles.Total)
	return s, nil
}

// ConflictingTrips returns occupying trips overlapping w, ordered by start
// time. Diagnostic only; enforcement happens at the edit boundary.
func (e *Engine) ConflictingTrips(ctx context.Context, companyID int64, w model.Window) ([]model.Trip, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	trips, err := e.trips.FindActiveOverlapping(ctx, companyID, w, 0)
	if err != nil {
		return nil, fmt.Errorf("overlapping trips: %w", err)
	}
	return trips, nil
}

type busy struct {
	drivers  map[int64]bool
	vehicles map[int64]bool
}

func (e *Engine) busySets(ctx context.Context, companyID int64, w model.Window, excludeTripID int64) (busy, error) {
	trips, err := e.trips.FindActiveOverlapping(ctx, companyID, w, excludeTripID)
	if err != nil {
		return busy{}, fmt.Errorf("overlapping trips: %w", err)
	}
	b := busy{drivers: make(map[int64]bool, len(trips)), vehicles: make(map[int64]bool, len(trips))}
	for _, t := range trips {
		if t.DriverID != 0 {
			b.drivers[t.DriverID] = true
		}
		if t.VehicleID != 0 {
			b.vehicles[t.VehicleID] = true
		}
	}
	return b, nil
}

func percentage(available, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(available)/float64(total)*1000) / 10
}
