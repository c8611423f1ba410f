package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/devicelink-core/internal/infrastructure/database"
)

// Repository is read access to logical devices for REST collaborators.
type Repository interface {
	// GetByPK returns ErrDeviceNotFound when pk does not exist.
	GetByPK(ctx context.Context, pk int64) (*LogicalDevice, error)

	// ListByGroup returns every device of a physical connection, ordered by kind then pin.
	ListByGroup(ctx context.Context, groupUID string) ([]LogicalDevice, error)
}

// SQLiteRepository implements Repository over the devices table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const selectDevice = `
	SELECT id, device_id, secret_hash, base_id, group_uid, kind, pin, sw_index,
		home_id, room_id, name, icon_path, type, meta, is_active, created_at, updated_at
	FROM devices`

// GetByPK returns one logical device.
func (r *SQLiteRepository) GetByPK(ctx context.Context, pk int64) (*LogicalDevice, error) {
	d, err := scanDevice(r.db.QueryRowContext(ctx, selectDevice+" WHERE id = ?", pk))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device %d: %w", pk, err)
	}
	return d, nil
}

// ListByGroup returns the devices sharing groupUID.
func (r *SQLiteRepository) ListByGroup(ctx context.Context, groupUID string) ([]LogicalDevice, error) {
	return listByGroup(ctx, r.db, groupUID)
}

// listByGroup orders by kind then pin; NULL pins (IR, RGB) sort first.
func listByGroup(ctx context.Context, q queryer, groupUID string) ([]LogicalDevice, error) {
	rows, err := q.QueryContext(ctx, selectDevice+" WHERE group_uid = ? ORDER BY kind, pin", groupUID)
	if err != nil {
		return nil, fmt.Errorf("querying group %s: %w", groupUID, err)
	}
	defer rows.Close()

	var devices []LogicalDevice
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(row scanner) (*LogicalDevice, error) {
	var (
		d                    LogicalDevice
		kind, meta           string
		pin, swIndex         sql.NullInt64
		homeID, roomID       sql.NullInt64
		active               int
		createdAt, updatedAt string
	)

	err := row.Scan(&d.PK, &d.DeviceID, &d.secretHash, &d.BaseID, &d.GroupUID, &kind,
		&pin, &swIndex, &homeID, &roomID, &d.Name, &d.IconPath, &d.Type, &meta,
		&active, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	d.Kind = Kind(kind)
	d.Pin = nullInt(pin)
	d.SwitchIndex = nullInt(swIndex)
	d.HomeID = nullInt64(homeID)
	d.RoomID = nullInt64(roomID)
	d.IsActive = active == 1

	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &d.Meta); err != nil {
			return nil, fmt.Errorf("decoding meta: %w", err)
		}
	}

	d.CreatedAt, _ = database.ParseTime(createdAt) //nolint:errcheck // format is controlled
	d.UpdatedAt, _ = database.ParseTime(updatedAt) //nolint:errcheck // format is controlled

	return &d, nil
}

func nullInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func nullInt64(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
