package trips

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/kilianp07/fleetops/core/availability"
	"github.com/kilianp07/fleetops/core/lifecycle"
	"github.com/kilianp07/fleetops/core/logger"
	"github.com/kilianp07/fleetops/core/model"
	"github.com/kilianp07/fleetops/internal/eventbus"
)

// Store is the trip persistence the handler writes through. It is the edit
// boundary: every durable write here is followed by exactly one coordinator
// notification.
type Store interface {
	CreateTrip(ctx context.Context, t model.Trip) (model.Trip, error)
	UpdateTrip(ctx context.Context, t model.Trip) error
	DeleteTrip(ctx context.Context, id int64) error
	FindTrip(ctx context.Context, id int64) (model.Trip, error)
	CountActiveTrips(ctx context.Context, companyID int64) (int, error)
}

// Handler exposes trip CRUD over HTTP and keeps scheduling state in sync
// through the lifecycle coordinator.
type Handler struct {
	store  Store
	engine *availability.Engine
	coord  *lifecycle.Coordinator
	bus    eventbus.EventBus
	log    logger.Logger
}

// NewHandler creates a Handler. bus may be nil.
func NewHandler(store Store, engine *availability.Engine, coord *lifecycle.Coordinator, bus eventbus.EventBus, log logger.Logger) *Handler {
	return &Handler{store: store, engine: engine, coord: coord, bus: bus, log: log}
}

// Register mounts the trip routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/trips", h.create)
	mux.HandleFunc("GET /api/trips/active_count", h.activeCount)
	mux.HandleFunc("GET /api/trips/{id}", h.get)
	mux.HandleFunc("PUT /api/trips/{id}", h.update)
	mux.HandleFunc("DELETE /api/trips/{id}", h.delete)
}

// tripRequest is the mutable subset of a trip accepted from clients.
// Omitted times stay zero; an omitted status defaults to scheduled on
// creation.
type tripRequest struct {
	CompanyID   int64     `json:"company_id"`
	DriverID    int64     `json:"driver_id"`
	VehicleID   int64     `json:"vehicle_id"`
	Destination string    `json:"destination"`
	StartAt     time.Time `json:"start_at"`
	EndAt       time.Time `json:"end_at"`
	Status      string    `json:"status"`
	Notes       string    `json:"notes"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req tripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}
	trip := model.Trip{
		CompanyID:   req.CompanyID,
		DriverID:    req.DriverID,
		VehicleID:   req.VehicleID,
		Destination: req.Destination,
		StartAt:     req.StartAt,
		EndAt:       req.EndAt,
		Status:      model.TripStatus(req.Status),
		Notes:       req.Notes,
	}
	if trip.Status == "" {
		trip.Status = model.TripScheduled
	}
	if err := trip.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.checkResources(r.Context(), trip, 0); err != nil {
		h.conflict(w, err)
		return
	}
	trip, err := h.store.CreateTrip(r.Context(), trip)
	if err != nil {
		h.fail(w, fmt.Errorf("create trip: %w", err))
		return
	}
	if err := h.coord.OnCreated(r.Context(), trip); err != nil {
		h.fail(w, fmt.Errorf("schedule trip %d: %w", trip.ID, err))
		return
	}
	// Reload: the coordinator records the batch id with a quiet save.
	if fresh, err := h.store.FindTrip(r.Context(), trip.ID); err == nil {
		trip = fresh
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(trip); err != nil {
		h.log.Errorf("encode trip: %v", err)
	}
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	trip, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, trip)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	current, ok := h.load(w, r)
	if !ok {
		return
	}
	var req tripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}
	updated := current
	updated.DriverID = req.DriverID
	updated.VehicleID = req.VehicleID
	updated.Destination = req.Destination
	updated.StartAt = req.StartAt
	updated.EndAt = req.EndAt
	updated.Notes = req.Notes
	if req.Status != "" {
		updated.Status = model.TripStatus(req.Status)
	}
	if err := updated.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	changed := diff(current, updated)
	if len(changed) == 0 && updated == current {
		writeJSON(w, current)
		return
	}
	if err := lifecycle.GuardEdit(current, changed); err != nil {
		if h.bus != nil {
			h.bus.Publish(lifecycle.EditBlockedEvent{
				TripID: current.ID,
				Field:  firstGuarded(changed),
				Reason: err.Error(),
			})
		}
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err := h.checkResources(r.Context(), updated, updated.ID); err != nil {
		h.conflict(w, err)
		return
	}
	if err := h.store.UpdateTrip(r.Context(), updated); err != nil {
		h.fail(w, fmt.Errorf("update trip %d: %w", updated.ID, err))
		return
	}
	if err := h.coord.OnUpdated(r.Context(), updated, changed); err != nil {
		h.fail(w, fmt.Errorf("reschedule trip %d: %w", updated.ID, err))
		return
	}
	if fresh, err := h.store.FindTrip(r.Context(), updated.ID); err == nil {
		updated = fresh
	}
	writeJSON(w, updated)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	trip, ok := h.load(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteTrip(r.Context(), trip.ID); err != nil {
		h.fail(w, fmt.Errorf("delete trip %d: %w", trip.ID, err))
		return
	}
	h.coord.OnDeleted(r.Context(), trip)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) activeCount(w http.ResponseWriter, r *http.Request) {
	companyID, err := strconv.ParseInt(r.URL.Query().Get("company_id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid or missing company_id", http.StatusBadRequest)
		return
	}
	n, err := h.store.CountActiveTrips(r.Context(), companyID)
	if err != nil {
		h.fail(w, fmt.Errorf("count active trips: %w", err))
		return
	}
	writeJSON(w, map[string]int{"active_trips": n})
}

// errResourceBusy reports which resource failed the availability check.
type errResourceBusy struct{ resource string }

func (e errResourceBusy) Error() string { return e.resource + " is not available for this window" }

// checkResources rejects assignments whose driver or vehicle has an
// overlapping occupying trip. Only occupying trips block: completed,
// cancelled and delayed schedules are ignored by the engine.
func (h *Handler) checkResources(ctx context.Context, trip model.Trip, excludeTripID int64) error {
	if !trip.Status.Occupying() {
		return nil
	}
	w := model.Window{Start: trip.StartAt, End: trip.EndAt}
	if trip.DriverID != 0 {
		ok, err := h.engine.IsDriverAvailable(ctx, trip.DriverID, w, excludeTripID)
		if err != nil {
			return err
		}
		if !ok {
			return errResourceBusy{"driver"}
		}
	}
	if trip.VehicleID != 0 {
		ok, err := h.engine.IsVehicleAvailable(ctx, trip.VehicleID, w, excludeTripID)
		if err != nil {
			return err
		}
		if !ok {
			return errResourceBusy{"vehicle"}
		}
	}
	return nil
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request) (model.Trip, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid trip id", http.StatusBadRequest)
		return model.Trip{}, false
	}
	trip, err := h.store.FindTrip(r.Context(), id)
	if errors.Is(err, model.ErrNotFound) {
		http.Error(w, "trip not found", http.StatusNotFound)
		return model.Trip{}, false
	}
	if err != nil {
		h.fail(w, fmt.Errorf("find trip %d: %w", id, err))
		return model.Trip{}, false
	}
	return trip, true
}

func (h *Handler) conflict(w http.ResponseWriter, err error) {
	var busy errResourceBusy
	if errors.As(err, &busy) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if errors.Is(err, model.ErrInvalidWindow) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.fail(w, err)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	h.log.Errorf("%v", err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

// diff returns the lifecycle-relevant field names that differ between two
// versions of a trip.
func diff(a, b model.Trip) []string {
	var out []string
	if !a.StartAt.Equal(b.StartAt) {
		out = append(out, lifecycle.FieldStartAt)
	}
	if !a.EndAt.Equal(b.EndAt) {
		out = append(out, lifecycle.FieldEndAt)
	}
	if a.DriverID != b.DriverID {
		out = append(out, lifecycle.FieldDriverID)
	}
	if a.VehicleID != b.VehicleID {
		out = append(out, lifecycle.FieldVehicleID)
	}
	if a.Status != b.Status {
		out = append(out, lifecycle.FieldStatus)
	}
	return out
}

func firstGuarded(changed []string) string {
	if len(changed) == 0 {
		return ""
	}
	return changed[0]
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
