package command

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/devicelink-core/internal/infrastructure/database"
)

// PendingQueue holds commands for devices that are offline.
type PendingQueue interface {
	// Enqueue stores e and fills in its ID.
	Enqueue(ctx context.Context, e *PendingEntry) error

	// Fetch returns up to limit entries addressed to any of devicePKs that
	// have not expired at now, oldest first.
	Fetch(ctx context.Context, devicePKs []int64, now time.Time, limit int) ([]PendingEntry, error)

	// Delete removes entries by id.
	Delete(ctx context.Context, ids []int64) error

	// PurgeExpired removes every entry expired at now and returns them.
	PurgeExpired(ctx context.Context, now time.Time) ([]PendingEntry, error)
}

// SQLitePendingQueue implements PendingQueue over pending_commands.
type SQLitePendingQueue struct {
	db *sql.DB
}

// NewSQLitePendingQueue creates a queue on an open database.
func NewSQLitePendingQueue(db *sql.DB) *SQLitePendingQueue {
	return &SQLitePendingQueue{db: db}
}

const selectPending = "SELECT id, device_pk, command_id, payload, created_at, expire_at FROM pending_commands"

// Enqueue inserts an entry.
func (q *SQLitePendingQueue) Enqueue(ctx context.Context, e *PendingEntry) error {
	var commandID any
	if e.CommandID > 0 {
		commandID = e.CommandID
	}

	res, err := q.db.ExecContext(ctx,
		"INSERT INTO pending_commands (device_pk, command_id, payload, created_at, expire_at) VALUES (?, ?, ?, ?, ?)",
		e.DevicePK, commandID, string(e.Payload),
		database.FormatTime(e.CreatedAt), database.FormatTime(e.ExpireAt),
	)
	if err != nil {
		return fmt.Errorf("inserting pending command: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading pending id: %w", err)
	}
	e.ID = id
	return nil
}

// Fetch loads live entries in creation order across every listed device.
func (q *SQLitePendingQueue) Fetch(ctx context.Context, devicePKs []int64, now time.Time, limit int) ([]PendingEntry, error) {
	if len(devicePKs) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(devicePKs)+2)
	for _, pk := range devicePKs {
		args = append(args, pk)
	}
	args = append(args, database.FormatTime(now), limit)

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(devicePKs)), ",")
	rows, err := q.db.QueryContext(ctx,
		selectPending+" WHERE device_pk IN ("+placeholders+") AND expire_at > ? ORDER BY created_at, id LIMIT ?",
		args...)
	if err != nil {
		return nil, fmt.Errorf("querying pending commands: %w", err)
	}
	return scanPending(rows)
}

// Delete removes the given entries.
func (q *SQLitePendingQueue) Delete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	//nolint:gosec // placeholders only
	if _, err := q.db.ExecContext(ctx, "DELETE FROM pending_commands WHERE id IN ("+placeholders+")", args...); err != nil {
		return fmt.Errorf("deleting pending commands: %w", err)
	}
	return nil
}

// PurgeExpired deletes expired entries inside one transaction.
func (q *SQLitePendingQueue) PurgeExpired(ctx context.Context, now time.Time) ([]PendingEntry, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	cutoff := database.FormatTime(now)
	rows, err := tx.QueryContext(ctx, selectPending+" WHERE expire_at <= ? ORDER BY id", cutoff)
	if err != nil {
		return nil, fmt.Errorf("querying expired commands: %w", err)
	}
	expired, err := scanPending(rows)
	if err != nil {
		return nil, err
	}
	if len(expired) == 0 {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM pending_commands WHERE expire_at <= ?", cutoff); err != nil {
		return nil, fmt.Errorf("deleting expired commands: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing purge: %w", err)
	}
	return expired, nil
}

func scanPending(rows *sql.Rows) ([]PendingEntry, error) {
	defer rows.Close()

	var entries []PendingEntry
	for rows.Next() {
		var (
			e                   PendingEntry
			commandID           sql.NullInt64
			payload             string
			createdAt, expireAt string
		)
		if err := rows.Scan(&e.ID, &e.DevicePK, &commandID, &payload, &createdAt, &expireAt); err != nil {
			return nil, fmt.Errorf("scanning pending command: %w", err)
		}
		e.CommandID = commandID.Int64
		e.Payload = []byte(payload)
		e.CreatedAt, _ = database.ParseTime(createdAt) //nolint:errcheck // format is controlled
		e.ExpireAt, _ = database.ParseTime(expireAt)   //nolint:errcheck // format is controlled
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pending commands: %w", err)
	}
	return entries, nil
}
