package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/devicelink-core/internal/auth"
	"github.com/nerrad567/devicelink-core/internal/command"
	"github.com/nerrad567/devicelink-core/internal/connection"
	"github.com/nerrad567/devicelink-core/internal/device"
	"github.com/nerrad567/devicelink-core/internal/infrastructure/config"
	"github.com/nerrad567/devicelink-core/internal/infrastructure/database"
	"github.com/nerrad567/devicelink-core/internal/infrastructure/logging"
	"github.com/nerrad567/devicelink-core/migrations"
)

const testJWTSecret = "test-secret-key-at-least-32-chars!"

// commandService joins the dispatcher and the log store the way main does.
type commandService struct {
	*command.Dispatcher
	command.LogStore
}

type testEnv struct {
	srv      *Server
	router   http.Handler
	registry *connection.Registry
	resolver *device.Resolver
	log      *command.SQLiteLogStore
}

func newTestEnv(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()

	db, err := database.Open(database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}

	registry := connection.NewRegistry()
	log := command.NewSQLiteLogStore(db.DB)
	disp := command.NewDispatcher(log, command.NewSQLitePendingQueue(db.DB), registry)

	deps := Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		Logger:       logging.Discard(),
		Commands:     commandService{Dispatcher: disp, LogStore: log},
		Devices:      device.NewSQLiteRepository(db.DB),
		Connections:  registry,
		HealthChecks: map[string]HealthChecker{"database": db},
		Version:      "test",
	}
	if mutate != nil {
		mutate(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &testEnv{
		srv:      srv,
		router:   srv.Handler(),
		registry: registry,
		resolver: device.NewResolver(db.DB),
		log:      log,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// seedDevices resolves a handshake and returns the created primary keys.
func (e *testEnv) seedDevices(t *testing.T, deviceID string) []int64 {
	t.Helper()
	res, err := e.resolver.Resolve(context.Background(), device.Handshake{DeviceID: deviceID, Secret: "s3cret"})
	if err != nil {
		t.Fatalf("Resolve(%q) error = %v", deviceID, err)
	}
	return res.IDs()
}

func bearer(t *testing.T, userID int64) http.Header {
	t.Helper()
	token, err := auth.GenerateAccessToken(userID, testJWTSecret, "devicelink", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	return http.Header{"Authorization": {"Bearer " + token}}
}

// fakeConn is a live connection that records frames.
type fakeConn struct {
	mu     sync.Mutex
	frames []any
	closed bool
}

func (c *fakeConn) ID() string { return "fake" }

func (c *fakeConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return connection.ErrClosed
	}
	c.frames = append(c.frames, v)
	return nil
}

func (c *fakeConn) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *fakeConn) sent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

type stubGateway struct {
	count int
	hits  int
}

func (g *stubGateway) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	g.hits++
	w.WriteHeader(http.StatusTeapot)
}

func (g *stubGateway) ConnectionCount() int { return g.count }

type failingCheck struct{}

func (failingCheck) HealthCheck(context.Context) error { return errors.New("broker unreachable") }

type recordingHTTPObserver struct {
	mu     sync.Mutex
	routes []string
}

func (o *recordingHTTPObserver) ObserveHTTP(route, method string, status int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.routes = append(o.routes, method+" "+route+" "+http.StatusText(status))
}
