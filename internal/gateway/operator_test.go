package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/devicelink-core/internal/auth"
	"github.com/nerrad567/devicelink-core/internal/command"
	"github.com/nerrad567/devicelink-core/internal/infrastructure/logging"
)

const testJWTSecret = "operator-test-secret-at-least-32-chars"

// stubDispatcher returns canned results and records requests.
type stubDispatcher struct {
	mu       sync.Mutex
	requests []command.Request
	live     bool
	err      error
}

func (d *stubDispatcher) Dispatch(_ context.Context, req command.Request) (*command.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	if req.DevicePK <= 0 {
		return nil, command.ErrInvalidTarget
	}
	d.requests = append(d.requests, req)
	return &command.Result{CommandID: int64(100 + len(d.requests)), DevicePK: req.DevicePK, Live: d.live}, nil
}

func (d *stubDispatcher) last() command.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests[len(d.requests)-1]
}

func newOperatorServer(t *testing.T, disp CommandDispatcher, authCfg OperatorAuth) (*OperatorGateway, *httptest.Server) {
	t.Helper()
	gw := NewOperatorGateway(disp, authCfg, testWSConfig, logging.Discard())
	gw.now = func() time.Time { return time.UnixMilli(1767225600000) }
	srv := httptest.NewServer(gw)
	t.Cleanup(func() {
		gw.Shutdown()
		srv.Close()
	})
	return gw, srv
}

func dialOperator(t *testing.T, srv *httptest.Server, query string, header http.Header) *websocket.Conn {
	t.Helper()
	conn := dial(t, wsURL(srv, query), header)
	if hello := readJSON(t, conn); hello["type"] != TypeHello {
		t.Fatalf("first frame = %v, want hello", hello)
	}
	return conn
}

func TestOperatorGateway_PingPong(t *testing.T) {
	_, srv := newOperatorServer(t, &stubDispatcher{}, OperatorAuth{})
	conn := dialOperator(t, srv, "", nil)

	writeJSON(t, conn, map[string]any{"type": "ping"})
	f := readJSON(t, conn)
	if f["type"] != TypePong || f["t"] != float64(1767225600000) {
		t.Errorf("frame = %v", f)
	}
}

func TestOperatorGateway_Control(t *testing.T) {
	tests := []struct {
		name string
		live bool
	}{
		{"live", true},
		{"queued", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			disp := &stubDispatcher{live: tt.live}
			_, srv := newOperatorServer(t, disp, OperatorAuth{})
			conn := dialOperator(t, srv, "", nil)

			writeJSON(t, conn, map[string]any{"type": "control", "device_pk": "12", "payload": map[string]any{"level": 3}})
			f := readJSON(t, conn)
			if f["type"] != TypeQueued || f["device_pk"] != float64(12) || f["live"] != tt.live || f["cmd_id"] != float64(101) {
				t.Errorf("frame = %v", f)
			}

			req := disp.last()
			if req.Source != command.SourceAPI || req.IssuedBy != nil || string(req.Payload) != `{"level":3}` {
				t.Errorf("request = %+v", req)
			}
		})
	}
}

func TestOperatorGateway_Errors(t *testing.T) {
	tests := []struct {
		name     string
		frame    string
		wantCode string
	}{
		{"bad json", `{"type":`, CodeBadJSON},
		{"zero target", `{"type":"control","device_pk":0}`, CodeInvalidTarget},
		{"text target", `{"type":"control","device_pk":"lamp"}`, CodeInvalidTarget},
		{"missing target", `{"type":"control","payload":{}}`, CodeInvalidTarget},
		{"unknown type", `{"type":"subscribe"}`, CodeUnknownType},
	}
	_, srv := newOperatorServer(t, &stubDispatcher{}, OperatorAuth{})
	conn := dialOperator(t, srv, "", nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.frame)); err != nil {
				t.Fatalf("write: %v", err)
			}
			f := readJSON(t, conn)
			if f["type"] != TypeError || f["code"] != tt.wantCode {
				t.Errorf("frame = %v, want code %s", f, tt.wantCode)
			}
			if tt.wantCode == CodeInvalidTarget && f["detail"] != "device_pk must be a positive integer" {
				t.Errorf("detail = %v", f["detail"])
			}
		})
	}

	// The connection survives every error.
	writeJSON(t, conn, map[string]any{"type": "ping"})
	if f := readJSON(t, conn); f["type"] != TypePong {
		t.Errorf("frame = %v, want pong", f)
	}
}

func TestOperatorGateway_DispatchFailure(t *testing.T) {
	disp := &stubDispatcher{err: errors.Join(command.ErrDispatchPersistence, errors.New("disk I/O error"))}
	_, srv := newOperatorServer(t, disp, OperatorAuth{})
	conn := dialOperator(t, srv, "", nil)

	writeJSON(t, conn, map[string]any{"type": "control", "device_pk": 4})
	if f := readJSON(t, conn); f["code"] != CodeInternal {
		t.Errorf("frame = %v, want INTERNAL", f)
	}
}

func TestOperatorGateway_Auth(t *testing.T) {
	authCfg := OperatorAuth{Required: true, Secret: testJWTSecret, Issuer: "devicelink"}
	disp := &stubDispatcher{}
	_, srv := newOperatorServer(t, disp, authCfg)

	token, err := auth.GenerateAccessToken(42, testJWTSecret, "devicelink", time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	wrongKey, err := auth.GenerateAccessToken(42, "another-secret-that-is-long-enough!!", "devicelink", time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	t.Run("rejects missing token", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
		if err == nil {
			t.Fatal("dial should fail without a token")
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("response = %v, want 401", resp)
		}
	})

	t.Run("rejects wrong signature", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "token="+wrongKey), nil)
		if err == nil {
			t.Fatal("dial should fail with a forged token")
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("response = %v, want 401", resp)
		}
	})

	t.Run("bearer header sets issuer", func(t *testing.T) {
		h := http.Header{}
		h.Set("Authorization", "Bearer "+token)
		conn := dialOperator(t, srv, "", h)
		writeJSON(t, conn, map[string]any{"type": "control", "device_pk": 9})
		readJSON(t, conn)
		req := disp.last()
		if req.IssuedBy == nil || *req.IssuedBy != 42 {
			t.Errorf("IssuedBy = %v, want 42", req.IssuedBy)
		}
	})

	t.Run("query token", func(t *testing.T) {
		conn := dialOperator(t, srv, "token="+token, nil)
		writeJSON(t, conn, map[string]any{"type": "ping"})
		if f := readJSON(t, conn); f["type"] != TypePong {
			t.Errorf("frame = %v", f)
		}
	})
}

func TestOperatorGateway_Shutdown(t *testing.T) {
	gw, srv := newOperatorServer(t, &stubDispatcher{}, OperatorAuth{})
	conn := dialOperator(t, srv, "", nil)
	eventually(t, "registered", func() bool { return gw.ConnectionCount() == 1 })

	gw.Shutdown()
	if code := expectClose(t, conn); code != websocket.CloseGoingAway {
		t.Errorf("close code = %d, want %d", code, websocket.CloseGoingAway)
	}
	eventually(t, "unregistered", func() bool { return gw.ConnectionCount() == 0 })
}
