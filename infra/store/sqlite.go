package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kilianp07/fleetops/core/model"
)

// SQLiteStore persists companies, drivers, vehicles and trips in a SQLite
// database. It implements the read interfaces of the availability engine,
// the lifecycle state machine's Store and the coordinator's BatchRecorder.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens or creates the database at path and ensures schema.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Writers from the API path and the executor share the file; a single
	// connection avoids SQLITE_BUSY under concurrency.
	db.SetMaxOpenConns(1)
	schema := `
CREATE TABLE IF NOT EXISTS companies (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS drivers (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    company_id INTEGER NOT NULL REFERENCES companies(id),
    name TEXT NOT NULL,
    email TEXT NOT NULL DEFAULT '',
    phone TEXT NOT NULL DEFAULT '',
    license_number TEXT NOT NULL DEFAULT '',
    hire_date INTEGER,
    status TEXT NOT NULL DEFAULT 'active',
    is_active INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS vehicles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    company_id INTEGER NOT NULL REFERENCES companies(id),
    brand TEXT NOT NULL,
    model TEXT NOT NULL,
    year INTEGER NOT NULL DEFAULT 0,
    color TEXT NOT NULL DEFAULT '',
    plate_number TEXT NOT NULL DEFAULT '',
    capacity INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'available',
    is_active INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS trips (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    company_id INTEGER NOT NULL REFERENCES companies(id),
    driver_id INTEGER NOT NULL DEFAULT 0,
    vehicle_id INTEGER NOT NULL DEFAULT 0,
    destination TEXT NOT NULL DEFAULT '',
    start_at INTEGER NOT NULL,
    end_at INTEGER,
    status TEXT NOT NULL DEFAULT 'scheduled',
    notes TEXT NOT NULL DEFAULT '',
    batch_id TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_trips_company_status ON trips(company_id, status);
CREATE INDEX IF NOT EXISTS idx_trips_driver ON trips(driver_id);
CREATE INDEX IF NOT EXISTS idx_trips_vehicle ON trips(vehicle_id);
`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// CreateCompany inserts a company and returns it with its id.
func (s *SQLiteStore) CreateCompany(ctx context.Context, c model.Company) (model.Company, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO companies (name) VALUES (?)`, c.Name)
	if err != nil {
		return model.Company{}, err
	}
	c.ID, err = res.LastInsertId()
	return c, err
}

// CreateDriver inserts a driver and returns it with its id.
func (s *SQLiteStore) CreateDriver(ctx context.Context, d model.Driver) (model.Driver, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO drivers
        (company_id, name, email, phone, license_number, hire_date, status, is_active)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.CompanyID, d.Name, d.Email, d.Phone, d.LicenseNumber,
		nullableUnix(d.HireDate), string(d.Status), boolInt(d.IsActive))
	if err != nil {
		return model.Driver{}, err
	}
	d.ID, err = res.LastInsertId()
	return d, err
}

// CreateVehicle inserts a vehicle and returns it with its id.
func (s *SQLiteStore) CreateVehicle(ctx context.Context, v model.Vehicle) (model.Vehicle, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO vehicles
        (company_id, brand, model, year, color, plate_number, capacity, status, is_active)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.CompanyID, v.Brand, v.Model, v.Year, v.Color, v.PlateNumber,
		v.Capacity, string(v.Status), boolInt(v.IsActive))
	if err != nil {
		return model.Vehicle{}, err
	}
	v.ID, err = res.LastInsertId()
	return v, err
}

// CreateTrip inserts a trip and returns it with its id.
func (s *SQLiteStore) CreateTrip(ctx context.Context, t model.Trip) (model.Trip, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO trips
        (company_id, driver_id, vehicle_id, destination, start_at, end_at, status, notes, batch_id)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.CompanyID, t.DriverID, t.VehicleID, t.Destination,
		t.StartAt.Unix(), nullableUnix(t.EndAt), string(t.Status), t.Notes, t.BatchID)
	if err != nil {
		return model.Trip{}, err
	}
	t.ID, err = res.LastInsertId()
	return t, err
}

// UpdateTrip persists all mutable trip fields.
func (s *SQLiteStore) UpdateTrip(ctx context.Context, t model.Trip) error {
	res, err := s.db.ExecContext(ctx, `UPDATE trips SET
        driver_id = ?, vehicle_id = ?, destination = ?, start_at = ?, end_at = ?,
        status = ?, notes = ?, batch_id = ?
        WHERE id = ?`,
		t.DriverID, t.VehicleID, t.Destination, t.StartAt.Unix(), nullableUnix(t.EndAt),
		string(t.Status), t.Notes, t.BatchID, t.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// DeleteTrip removes a trip row.
func (s *SQLiteStore) DeleteTrip(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM trips WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// FindTrip loads one trip by id.
func (s *SQLiteStore) FindTrip(ctx context.Context, id int64) (model.Trip, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, company_id, driver_id, vehicle_id,
        destination, start_at, end_at, status, notes, batch_id FROM trips WHERE id = ?`, id)
	return scanTrip(row)
}

// FindDriver loads one driver by id.
func (s *SQLiteStore) FindDriver(ctx context.Context, id int64) (model.Driver, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, company_id, name, email, phone,
        license_number, hire_date, status, is_active FROM drivers WHERE id = ?`, id)
	return scanDriver(row)
}

// FindVehicle loads one vehicle by id.
func (s *SQLiteStore) FindVehicle(ctx context.Context, id int64) (model.Vehicle, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, company_id, brand, model, year,
        color, plate_number, capacity, status, is_active FROM vehicles WHERE id = ?`, id)
	return scanVehicle(row)
}

// FindSchedulableDrivers returns the company's active drivers ordered by name.
func (s *SQLiteStore) FindSchedulableDrivers(ctx context.Context, companyID int64) ([]model.Driver, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, company_id, name, email, phone,
        license_number, hire_date, status, is_active FROM drivers
        WHERE company_id = ? AND is_active = 1 AND status = 'active'
        ORDER BY name`, companyID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// FindSchedulableVehicles returns the company's available vehicles ordered
// by brand then model.
func (s *SQLiteStore) FindSchedulableVehicles(ctx context.Context, companyID int64) ([]model.Vehicle, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, company_id, brand, model, year,
        color, plate_number, capacity, status, is_active FROM vehicles
        WHERE company_id = ? AND is_active = 1 AND status = 'available'
        ORDER BY brand, model`, companyID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.Vehicle
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// FindActiveOverlapping returns occupying trips overlapping w, ordered by
// start time. The status filter runs in SQL; the interval check is the
// shared predicate so SQL and Go can never disagree on boundaries.
func (s *SQLiteStore) FindActiveOverlapping(ctx context.Context, companyID int64, w model.Window, excludeID int64) ([]model.Trip, error) {
	query := `SELECT id, company_id, driver_id, vehicle_id, destination, start_at,
        end_at, status, notes, batch_id FROM trips
        WHERE company_id = ? AND status IN ('scheduled', 'in_progress')`
	args := []any{companyID}
	if excludeID != 0 {
		query += ` AND id != ?`
		args = append(args, excludeID)
	}
	query += ` ORDER BY start_at`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		if w.OverlapsTrip(t) {
			out = append(out, t)
		}
	}
	return out, rows.Err()
}

// CountActiveTrips returns the number of occupying trips for a company.
func (s *SQLiteStore) CountActiveTrips(ctx context.Context, companyID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trips
        WHERE company_id = ? AND status IN ('scheduled', 'in_progress')`, companyID).Scan(&n)
	return n, err
}

// SetTripBatchID records the batch id without touching any other field.
// This is the quiet save: callers must not re-run lifecycle events for it.
func (s *SQLiteStore) SetTripBatchID(ctx context.Context, tripID int64, batchID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE trips SET batch_id = ? WHERE id = ?`, batchID, tripID)
	return err
}

// ApplyTransition writes the trip and both resource flips in one
// transaction, so concurrent readers never observe a half-applied
// transition.
func (s *SQLiteStore) ApplyTransition(ctx context.Context, trip model.Trip, driver *model.Driver, vehicle *model.Vehicle) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE trips SET status = ? WHERE id = ?`,
		string(trip.Status), trip.ID); err != nil {
		return fmt.Errorf("update trip %d: %w", trip.ID, err)
	}
	if driver != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE drivers SET status = ?, is_active = ? WHERE id = ?`,
			string(driver.Status), boolInt(driver.IsActive), driver.ID); err != nil {
			return fmt.Errorf("update driver %d: %w", driver.ID, err)
		}
	}
	if vehicle != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE vehicles SET status = ? WHERE id = ?`,
			string(vehicle.Status), vehicle.ID); err != nil {
			return fmt.Errorf("update vehicle %d: %w", vehicle.ID, err)
		}
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTrip(sc scanner) (model.Trip, error) {
	var t model.Trip
	var startAt int64
	var endAt sql.NullInt64
	var status string
	err := sc.Scan(&t.ID, &t.CompanyID, &t.DriverID, &t.VehicleID, &t.Destination,
		&startAt, &endAt, &status, &t.Notes, &t.BatchID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Trip{}, model.ErrNotFound
	}
	if err != nil {
		return model.Trip{}, err
	}
	t.StartAt = time.Unix(startAt, 0).UTC()
	if endAt.Valid {
		t.EndAt = time.Unix(endAt.Int64, 0).UTC()
	}
	t.Status = model.TripStatus(status)
	return t, nil
}

func scanDriver(sc scanner) (model.Driver, error) {
	var d model.Driver
	var hireDate sql.NullInt64
	var status string
	var isActive int
	err := sc.Scan(&d.ID, &d.CompanyID, &d.Name, &d.Email, &d.Phone,
		&d.LicenseNumber, &hireDate, &status, &isActive)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Driver{}, model.ErrNotFound
	}
	if err != nil {
		return model.Driver{}, err
	}
	if hireDate.Valid {
		d.HireDate = time.Unix(hireDate.Int64, 0).UTC()
	}
	d.Status = model.DriverStatus(status)
	d.IsActive = isActive != 0
	return d, nil
}

func scanVehicle(sc scanner) (model.Vehicle, error) {
	var v model.Vehicle
	var status string
	var isActive int
	err := sc.Scan(&v.ID, &v.CompanyID, &v.Brand, &v.Model, &v.Year,
		&v.Color, &v.PlateNumber, &v.Capacity, &status, &isActive)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Vehicle{}, model.ErrNotFound
	}
	if err != nil {
		return model.Vehicle{}, err
	}
	v.Status = model.VehicleStatus(status)
	v.IsActive = isActive != 0
	return v, nil
}

func nullableUnix(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
