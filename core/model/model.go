package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by stores when an entity does not exist.
var ErrNotFound = errors.New("not found")

// TripStatus is the lifecycle state of a trip.
type TripStatus string

const (
	TripScheduled  TripStatus = "scheduled"
	TripInProgress TripStatus = "in_progress"
	TripCompleted  TripStatus = "completed"
	TripCancelled  TripStatus = "cancelled"
	TripDelayed    TripStatus = "delayed"
)

// Occupying reports whether a trip in this status counts toward resource
// unavailability. Completed, cancelled and delayed trips never block.
func (s TripStatus) Occupying() bool {
	return s == TripScheduled || s == TripInProgress
}

// Valid reports whether the status is one of the known trip states.
func (s TripStatus) Valid() bool {
	switch s {
	case TripScheduled, TripInProgress, TripCompleted, TripCancelled, TripDelayed:
		return true
	}
	return false
}

// DriverStatus is the employment status of a driver.
type DriverStatus string

const (
	DriverActive     DriverStatus = "active"
	DriverInactive   DriverStatus = "inactive"
	DriverSuspended  DriverStatus = "suspended"
	DriverTerminated DriverStatus = "terminated"
)

// VehicleStatus is the operational status of a vehicle.
type VehicleStatus string

const (
	VehicleAvailable    VehicleStatus = "available"
	VehicleInUse        VehicleStatus = "in_use"
	VehicleMaintenance  VehicleStatus = "maintenance"
	VehicleOutOfService VehicleStatus = "out_of_service"
)

// Company groups drivers, vehicles and trips. Resources are never pooled
// across companies.
type Company struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Driver belongs to exactly one company.
type Driver struct {
	ID            int64        `json:"id"`
	CompanyID     int64        `json:"company_id"`
	Name          string       `json:"name"`
	Email         string       `json:"email,omitempty"`
	Phone         string       `json:"phone,omitempty"`
	LicenseNumber string       `json:"license_number,omitempty"`
	HireDate      time.Time    `json:"hire_date,omitempty"`
	Status        DriverStatus `json:"status"`
	IsActive      bool         `json:"is_active"`
}

// Schedulable reports whether the driver can be considered for assignment.
// Both the status gate and the independent is_active flag must pass.
func (d Driver) Schedulable() bool {
	return d.IsActive && d.Status == DriverActive
}

// Vehicle belongs to exactly one company.
type Vehicle struct {
	ID          int64         `json:"id"`
	CompanyID   int64         `json:"company_id"`
	Brand       string        `json:"brand"`
	Model       string        `json:"model"`
	Year        int           `json:"year,omitempty"`
	Color       string        `json:"color,omitempty"`
	PlateNumber string        `json:"plate_number,omitempty"`
	Capacity    int           `json:"capacity,omitempty"`
	Status      VehicleStatus `json:"status"`
	IsActive    bool          `json:"is_active"`
}

// Schedulable reports whether the vehicle can be considered for assignment.
func (v Vehicle) Schedulable() bool {
	return v.IsActive && v.Status == VehicleAvailable
}

// Trip is a single time-bounded haul. EndAt may be the zero time for
// open-ended trips. BatchID identifies the current group of deferred
// lifecycle actions; it is empty when none are outstanding.
type Trip struct {
	ID          int64      `json:"id"`
	CompanyID   int64      `json:"company_id"`
	DriverID    int64      `json:"driver_id"`
	VehicleID   int64      `json:"vehicle_id"`
	Destination string     `json:"destination"`
	StartAt     time.Time  `json:"start_at"`
	EndAt       time.Time  `json:"end_at,omitempty"`
	Status      TripStatus `json:"status"`
	Notes       string     `json:"notes,omitempty"`
	BatchID     string     `json:"batch_id,omitempty"`
}

// Validate checks that the trip is well formed.
func (t Trip) Validate() error {
	if t.CompanyID == 0 {
		return errors.New("company is required")
	}
	if t.StartAt.IsZero() {
		return errors.New("start time is required")
	}
	if !t.EndAt.IsZero() && !t.EndAt.After(t.StartAt) {
		return fmt.Errorf("end %s must be after start %s", t.EndAt, t.StartAt)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("unknown trip status %q", t.Status)
	}
	return nil
}
