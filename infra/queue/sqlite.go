package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kilianp07/fleetops/core/schedule"
)

// SQLiteQueue is the durable action queue backed by SQLite. Actions carry
// an explicit state column so a claim is a conditional update: a row moves
// from pending to claimed exactly once, and only while its batch is not
// cancelled.
type SQLiteQueue struct {
	db *sql.DB
}

// Open opens or creates the queue database at path and ensures schema.
func Open(path string) (*SQLiteQueue, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// The scheduler and the executor write concurrently; a single
	// connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	schema := `
CREATE TABLE IF NOT EXISTS batches (
    id TEXT PRIMARY KEY,
    trip_id INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    cancelled_at INTEGER
);
CREATE TABLE IF NOT EXISTS actions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    batch_id TEXT NOT NULL REFERENCES batches(id),
    trip_id INTEGER NOT NULL,
    kind TEXT NOT NULL,
    captured_at INTEGER,
    fires_at INTEGER NOT NULL,
    state TEXT NOT NULL DEFAULT 'pending'
);
CREATE INDEX IF NOT EXISTS idx_actions_trip ON actions(trip_id);
CREATE INDEX IF NOT EXISTS idx_actions_due ON actions(state, fires_at);
`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &SQLiteQueue{db: db}, nil
}

// Close closes the underlying database.
func (q *SQLiteQueue) Close() error { return q.db.Close() }

// Enqueue persists the batch and its actions in one transaction.
func (q *SQLiteQueue) Enqueue(ctx context.Context, batch schedule.Batch, actions []schedule.Action) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT INTO batches (id, trip_id, created_at) VALUES (?, ?, ?)`,
		batch.ID, batch.TripID, batch.CreatedAt.Unix()); err != nil {
		return fmt.Errorf("insert batch %s: %w", batch.ID, err)
	}
	for _, a := range actions {
		if _, err := tx.ExecContext(ctx, `INSERT INTO actions
            (batch_id, trip_id, kind, captured_at, fires_at, state)
            VALUES (?, ?, ?, ?, ?, 'pending')`,
			a.BatchID, a.TripID, string(a.Kind), nullableUnix(a.CapturedAt), a.FiresAt.Unix()); err != nil {
			return fmt.Errorf("insert %s action for trip %d: %w", a.Kind, a.TripID, err)
		}
	}
	return tx.Commit()
}

// CancelBatch marks the batch cancelled. Unknown ids are a no-op.
func (q *SQLiteQueue) CancelBatch(ctx context.Context, batchID string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE batches SET cancelled_at = ? WHERE id = ? AND cancelled_at IS NULL`,
		time.Now().Unix(), batchID)
	return err
}

// ClaimDue selects due pending actions and claims each with a conditional
// update. A row whose update affects zero rows was cancelled or claimed
// concurrently and is skipped.
func (q *SQLiteQueue) ClaimDue(ctx context.Context, now time.Time, limit int) ([]schedule.Action, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT a.id, a.batch_id, a.trip_id, a.kind, a.captured_at, a.fires_at
        FROM actions a JOIN batches b ON b.id = a.batch_id
        WHERE a.state = 'pending' AND b.cancelled_at IS NULL AND a.fires_at <= ?
        ORDER BY a.fires_at LIMIT ?`, now.Unix(), limit)
	if err != nil {
		return nil, err
	}
	candidates, err := scanActions(rows)
	if err != nil {
		return nil, err
	}

	var claimed []schedule.Action
	for _, a := range candidates {
		res, err := q.db.ExecContext(ctx, `UPDATE actions SET state = 'claimed'
            WHERE id = ? AND state = 'pending'
            AND (SELECT cancelled_at FROM batches WHERE id = actions.batch_id) IS NULL`, a.ID)
		if err != nil {
			return claimed, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return claimed, err
		}
		if n == 1 {
			claimed = append(claimed, a)
		}
	}
	return claimed, nil
}

// MarkDone removes a claimed action after execution.
func (q *SQLiteQueue) MarkDone(ctx context.Context, actionID int64) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM actions WHERE id = ?`, actionID)
	return err
}

// Release re-pends a claimed action with a new fire time so it is retried.
// Only claimed rows move back; a done or already-pending id is a no-op.
func (q *SQLiteQueue) Release(ctx context.Context, actionID int64, firesAt time.Time) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE actions SET state = 'pending', fires_at = ? WHERE id = ? AND state = 'claimed'`,
		firesAt.Unix(), actionID)
	return err
}

// DeleteBatch removes the batch record and its pending actions. Claimed
// actions are left for their executor to finish and mark done.
func (q *SQLiteQueue) DeleteBatch(ctx context.Context, batchID string) (bool, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM actions WHERE batch_id = ? AND state = 'pending'`, batchID); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM batches WHERE id = ?`, batchID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeletePendingByTrip removes all pending actions targeting the trip,
// across every batch, and returns the number removed.
func (q *SQLiteQueue) DeletePendingByTrip(ctx context.Context, tripID int64) (int, error) {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM actions WHERE trip_id = ? AND state = 'pending'`, tripID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// NextDue returns the earliest fire time among claimable actions.
func (q *SQLiteQueue) NextDue(ctx context.Context) (time.Time, bool, error) {
	var firesAt sql.NullInt64
	err := q.db.QueryRowContext(ctx, `SELECT MIN(a.fires_at)
        FROM actions a JOIN batches b ON b.id = a.batch_id
        WHERE a.state = 'pending' AND b.cancelled_at IS NULL`).Scan(&firesAt)
	if err != nil {
		return time.Time{}, false, err
	}
	if !firesAt.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(firesAt.Int64, 0).UTC(), true, nil
}

func scanActions(rows *sql.Rows) ([]schedule.Action, error) {
	defer func() { _ = rows.Close() }()
	var out []schedule.Action
	for rows.Next() {
		var a schedule.Action
		var captured sql.NullInt64
		var firesAt int64
		var kind string
		if err := rows.Scan(&a.ID, &a.BatchID, &a.TripID, &kind, &captured, &firesAt); err != nil {
			return nil, err
		}
		a.Kind = schedule.Kind(kind)
		if captured.Valid {
			a.CapturedAt = time.Unix(captured.Int64, 0).UTC()
		}
		a.FiresAt = time.Unix(firesAt, 0).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullableUnix(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}
