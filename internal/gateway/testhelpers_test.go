package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/devicelink-core/internal/command"
	"github.com/nerrad567/devicelink-core/internal/connection"
	"github.com/nerrad567/devicelink-core/internal/device"
	"github.com/nerrad567/devicelink-core/internal/infrastructure/config"
	"github.com/nerrad567/devicelink-core/internal/infrastructure/database"
	"github.com/nerrad567/devicelink-core/internal/infrastructure/logging"
	"github.com/nerrad567/devicelink-core/migrations"
)

var testWSConfig = config.WebSocketConfig{
	MaxMessageSize: 65536,
	PingInterval:   30,
	PongTimeout:    5,
	SendBuffer:     16,
}

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

// deviceEnv wires a device gateway to real stores.
type deviceEnv struct {
	registry *connection.Registry
	log      *command.SQLiteLogStore
	queue    *command.SQLitePendingQueue
	devices  *device.SQLiteRepository
	disp     *command.Dispatcher
	gateway  *DeviceGateway
	server   *httptest.Server
}

func newDeviceEnv(t *testing.T) *deviceEnv {
	t.Helper()
	db := setupTestDB(t)
	registry := connection.NewRegistry()
	log := command.NewSQLiteLogStore(db.DB)
	queue := command.NewSQLitePendingQueue(db.DB)
	disp := command.NewDispatcher(log, queue, registry)
	resolver := device.NewResolver(db.DB, device.WithSecretVerification(true))

	gw := NewDeviceGateway(resolver, registry, disp, testWSConfig, logging.Discard())
	srv := httptest.NewServer(gw)
	t.Cleanup(func() {
		gw.Shutdown()
		srv.Close()
	})

	return &deviceEnv{
		registry: registry,
		log:      log,
		queue:    queue,
		devices:  device.NewSQLiteRepository(db.DB),
		disp:     disp,
		gateway:  gw,
		server:   srv,
	}
}

func wsURL(srv *httptest.Server, query string) string {
	u := "ws" + strings.TrimPrefix(srv.URL, "http")
	if query != "" {
		u += "?" + query
	}
	return u
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readJSON reads one frame into a generic map.
func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second)) //nolint:errcheck // test deadline
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decoding frame %s: %v", data, err)
	}
	return m
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("writing frame: %v", err)
	}
}

// expectClose reads until the server closes and returns the close code.
func expectClose(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second)) //nolint:errcheck // test deadline
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if ok := asCloseError(err, &ce); ok {
			return ce.Code
		}
		t.Fatalf("expected close frame, got %v", err)
	}
}

func asCloseError(err error, target **websocket.CloseError) bool {
	ce, ok := err.(*websocket.CloseError) //nolint:errorlint // gorilla returns the concrete type
	if ok {
		*target = ce
	}
	return ok
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
