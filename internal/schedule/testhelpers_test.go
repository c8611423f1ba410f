package schedule

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/devicelink-core/internal/command"
	"github.com/nerrad567/devicelink-core/internal/infrastructure/database"
	"github.com/nerrad567/devicelink-core/migrations"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return db
}

// seedSchedule inserts a schedule row and returns its id.
func seedSchedule(t *testing.T, db *sql.DB, s Schedule) int64 {
	t.Helper()
	now := database.FormatTime(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if s.Action == nil {
		s.Action = []byte(`{}`)
	}
	active := 0
	if s.IsActive {
		active = 1
	}
	res, err := db.Exec(`INSERT INTO schedules
		(home_id, device_pk, scene_id, action, rrule, cron, timezone, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.HomeID, s.DevicePK, s.SceneID, string(s.Action),
		nullable(s.RRule), nullable(s.Cron), s.Timezone, active, now, now)
	if err != nil {
		t.Fatalf("seeding schedule: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func ptr(v int64) *int64 { return &v }

// fakeDispatcher records dispatch requests.
type fakeDispatcher struct {
	mu       sync.Mutex
	requests []command.Request
	err      error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, req command.Request) (*command.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.requests = append(d.requests, req)
	return &command.Result{CommandID: int64(len(d.requests)), DevicePK: req.DevicePK}, nil
}

func (d *fakeDispatcher) calls() []command.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]command.Request(nil), d.requests...)
}

// stubRepo serves a fixed schedule list.
type stubRepo struct {
	schedules []Schedule
	err       error
}

func (r *stubRepo) ListActive(context.Context) ([]Schedule, error) {
	return r.schedules, r.err
}

func (r *stubRepo) GetByID(_ context.Context, id int64) (*Schedule, error) {
	for i := range r.schedules {
		if r.schedules[i].ID == id {
			return &r.schedules[i], nil
		}
	}
	return nil, ErrScheduleNotFound
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type recordingObserver struct {
	mu    sync.Mutex
	fired []int64
	ticks []TickStats
}

func (o *recordingObserver) ScheduleFired(s *Schedule, _ *command.Result) {
	o.mu.Lock()
	o.fired = append(o.fired, s.ID)
	o.mu.Unlock()
}

func (o *recordingObserver) TickCompleted(_ time.Duration, stats TickStats) {
	o.mu.Lock()
	o.ticks = append(o.ticks, stats)
	o.mu.Unlock()
}
