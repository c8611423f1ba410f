package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/devicelink-core/internal/infrastructure/database"
)

// Repository reads schedules. Schedules are written by the REST layer.
type Repository interface {
	ListActive(ctx context.Context) ([]Schedule, error)
	GetByID(ctx context.Context, id int64) (*Schedule, error)
}

const scheduleColumns = `id, home_id, device_pk, scene_id, action, rrule, cron, timezone,
			is_active, created_at, updated_at`

// SQLiteRepository implements Repository over the schedules table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// ListActive returns every active schedule ordered by id.
func (r *SQLiteRepository) ListActive(ctx context.Context) ([]Schedule, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+scheduleColumns+" FROM schedules WHERE is_active = 1 ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying active schedules: %w", err)
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating schedules: %w", err)
	}
	return out, nil
}

// GetByID returns ErrScheduleNotFound when id does not exist.
func (r *SQLiteRepository) GetByID(ctx context.Context, id int64) (*Schedule, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+scheduleColumns+" FROM schedules WHERE id = ?", id)
	s, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	return s, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	var (
		s                    Schedule
		devicePK, sceneID    sql.NullInt64
		action               string
		rrule, cron          sql.NullString
		isActive             int
		createdAt, updatedAt string
	)
	if err := row.Scan(&s.ID, &s.HomeID, &devicePK, &sceneID, &action, &rrule, &cron,
		&s.Timezone, &isActive, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning schedule: %w", err)
	}

	if devicePK.Valid {
		s.DevicePK = &devicePK.Int64
	}
	if sceneID.Valid {
		s.SceneID = &sceneID.Int64
	}
	s.Action = json.RawMessage(action)
	s.RRule = rrule.String
	s.Cron = cron.String
	s.IsActive = isActive == 1

	var err error
	if s.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if s.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &s, nil
}
