package availability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/kilianp07/fleetops/core/availability"
	"github.com/kilianp07/fleetops/core/logger"
	"github.com/kilianp07/fleetops/core/model"
)

// Handler exposes the availability engine over HTTP. All endpoints are
// read-only GETs taking company_id, start and optional end/exclude_trip_id
// query parameters; times are RFC 3339.
type Handler struct {
	engine *availability.Engine
	log    logger.Logger
}

// NewHandler creates a Handler.
func NewHandler(engine *availability.Engine, log logger.Logger) *Handler {
	return &Handler{engine: engine, log: log}
}

// Register mounts the availability routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/availability/drivers", h.drivers)
	mux.HandleFunc("/api/availability/vehicles", h.vehicles)
	mux.HandleFunc("/api/availability/driver", h.driverCheck)
	mux.HandleFunc("/api/availability/vehicle", h.vehicleCheck)
	mux.HandleFunc("/api/availability/summary", h.summary)
	mux.HandleFunc("/api/availability/conflicts", h.conflicts)
}

type queryParams struct {
	companyID int64
	window    model.Window
	excludeID int64
}

func parseQuery(r *http.Request) (queryParams, error) {
	var p queryParams
	var err error
	q := r.URL.Query()
	p.companyID, err = strconv.ParseInt(q.Get("company_id"), 10, 64)
	if err != nil {
		return p, errBadParam{"company_id"}
	}
	p.window.Start, err = time.Parse(time.RFC3339, q.Get("start"))
	if err != nil {
		return p, errBadParam{"start"}
	}
	if end := q.Get("end"); end != "" {
		p.window.End, err = time.Parse(time.RFC3339, end)
		if err != nil {
			return p, errBadParam{"end"}
		}
	}
	if ex := q.Get("exclude_trip_id"); ex != "" {
		p.excludeID, err = strconv.ParseInt(ex, 10, 64)
		if err != nil {
			return p, errBadParam{"exclude_trip_id"}
		}
	}
	return p, nil
}

type errBadParam struct{ name string }

func (e errBadParam) Error() string { return "invalid or missing " + e.name }

func (h *Handler) drivers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p, err := parseQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	drivers, err := h.engine.AvailableDrivers(r.Context(), p.companyID, p.window, p.excludeID)
	if err != nil {
		h.fail(w, err)
		return
	}
	if drivers == nil {
		drivers = []model.Driver{}
	}
	writeJSON(w, drivers)
}

func (h *Handler) vehicles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p, err := parseQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	vehicles, err := h.engine.AvailableVehicles(r.Context(), p.companyID, p.window, p.excludeID)
	if err != nil {
		h.fail(w, err)
		return
	}
	if vehicles == nil {
		vehicles = []model.Vehicle{}
	}
	writeJSON(w, vehicles)
}

func (h *Handler) driverCheck(w http.ResponseWriter, r *http.Request) {
	h.check(w, r, "driver_id", h.engine.IsDriverAvailable)
}

func (h *Handler) vehicleCheck(w http.ResponseWriter, r *http.Request) {
	h.check(w, r, "vehicle_id", h.engine.IsVehicleAvailable)
}

type checkFunc func(ctx context.Context, id int64, w model.Window, excludeTripID int64) (bool, error)

func (h *Handler) check(w http.ResponseWriter, r *http.Request, idParam string, fn checkFunc) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	id, err := strconv.ParseInt(q.Get(idParam), 10, 64)
	if err != nil {
		http.Error(w, errBadParam{idParam}.Error(), http.StatusBadRequest)
		return
	}
	var wdw model.Window
	wdw.Start, err = time.Parse(time.RFC3339, q.Get("start"))
	if err != nil {
		http.Error(w, errBadParam{"start"}.Error(), http.StatusBadRequest)
		return
	}
	if end := q.Get("end"); end != "" {
		wdw.End, err = time.Parse(time.RFC3339, end)
		if err != nil {
			http.Error(w, errBadParam{"end"}.Error(), http.StatusBadRequest)
			return
		}
	}
	var excludeID int64
	if ex := q.Get("exclude_trip_id"); ex != "" {
		excludeID, err = strconv.ParseInt(ex, 10, 64)
		if err != nil {
			http.Error(w, errBadParam{"exclude_trip_id"}.Error(), http.StatusBadRequest)
			return
		}
	}
	available, err := fn(r.Context(), id, wdw, excludeID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, map[string]bool{"available": available})
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p, err := parseQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s, err := h.engine.Summary(r.Context(), p.companyID, p.window)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, s)
}

func (h *Handler) conflicts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p, err := parseQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	trips, err := h.engine.ConflictingTrips(r.Context(), p.companyID, p.window)
	if err != nil {
		h.fail(w, err)
		return
	}
	if trips == nil {
		trips = []model.Trip{}
	}
	writeJSON(w, trips)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, model.ErrInvalidWindow) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.log.Errorf("availability query: %v", err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
