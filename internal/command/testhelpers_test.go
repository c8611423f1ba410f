package command

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/devicelink-core/internal/connection"
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

// testClock is a settable clock shared by stores and dispatcher.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeConn records control frames.
type fakeConn struct {
	id string

	mu     sync.Mutex
	closed bool
	failAt int // 1-based send that fails; 0 never
	sends  int
	frames []ControlMessage
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return connection.ErrClosed
	}
	c.sends++
	if c.failAt > 0 && c.sends == c.failAt {
		return connection.ErrClosed
	}
	c.frames = append(c.frames, v.(ControlMessage))
	return nil
}

func (c *fakeConn) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *fakeConn) sent() []ControlMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ControlMessage(nil), c.frames...)
}

// recordingObserver captures observer calls.
type recordingObserver struct {
	mu         sync.Mutex
	dispatched []Result
	updated    []Command
}

func (o *recordingObserver) CommandDispatched(_ *Command, res *Result) {
	o.mu.Lock()
	o.dispatched = append(o.dispatched, *res)
	o.mu.Unlock()
}

func (o *recordingObserver) CommandUpdated(cmd *Command) {
	o.mu.Lock()
	o.updated = append(o.updated, *cmd)
	o.mu.Unlock()
}

type testEnv struct {
	db       *database.DB
	clock    *testClock
	log      *SQLiteLogStore
	queue    *SQLitePendingQueue
	registry *connection.Registry
	observer *recordingObserver
	disp     *Dispatcher
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	db := setupTestDB(t)
	clock := newTestClock()

	log := NewSQLiteLogStore(db.DB)
	log.now = clock.Now
	queue := NewSQLitePendingQueue(db.DB)
	registry := connection.NewRegistry()
	obs := &recordingObserver{}

	opts = append([]Option{WithClock(clock.Now), WithObserver(obs)}, opts...)
	return &testEnv{
		db:       db,
		clock:    clock,
		log:      log,
		queue:    queue,
		registry: registry,
		observer: obs,
		disp:     NewDispatcher(log, queue, registry, opts...),
	}
}

func (e *testEnv) status(t *testing.T, id int64) Status {
	t.Helper()
	cmd, err := e.log.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%d) error = %v", id, err)
	}
	return cmd.Status
}

func raw(s string) json.RawMessage { return json.RawMessage(s) }
