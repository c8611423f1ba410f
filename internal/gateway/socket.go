package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/devicelink-core/internal/connection"
	"github.com/nerrad567/devicelink-core/internal/infrastructure/config"
	"github.com/nerrad567/devicelink-core/internal/infrastructure/logging"
)

const (
	defaultSendBuffer = 256
	sendRetryInterval = 5 * time.Millisecond
)

// errSendBufferFull is returned by Send when a slow peer has not drained
// its buffer. The frame is dropped.
var errSendBufferFull = errors.New("gateway: send buffer full")

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Devices are not browsers; operator origins are checked by CORS.
		return true
	},
}

// socket is one WebSocket peer. It implements connection.Conn.
type socket struct {
	id     string
	ws     *websocket.Conn
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
	done   chan struct{}
}

func newSocket(ws *websocket.Conn, cfg config.WebSocketConfig, logger *logging.Logger) *socket {
	size := cfg.SendBuffer
	if size <= 0 {
		size = defaultSendBuffer
	}
	id := uuid.NewString()
	return &socket{
		id:     id,
		ws:     ws,
		cfg:    cfg,
		logger: logger.With("conn_id", id),
		send:   make(chan []byte, size),
		done:   make(chan struct{}),
	}
}

// ID implements connection.Conn.
func (s *socket) ID() string { return s.id }

// Open implements connection.Conn.
func (s *socket) Open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Send marshals v and queues it for the write pump. It fails with
// errSendBufferFull rather than wait for a slow peer.
func (s *socket) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.enqueue(data)
}

// sendWait is Send for bulk writers: while the buffer is full it waits for
// the write pump to drain, up to one pong timeout per frame.
func (s *socket) sendWait(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	deadline := time.NewTimer(s.pongWait())
	defer deadline.Stop()
	retry := time.NewTicker(sendRetryInterval)
	defer retry.Stop()
	for {
		err := s.enqueue(data)
		if !errors.Is(err, errSendBufferFull) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return err
		case <-retry.C:
		}
	}
}

func (s *socket) enqueue(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return connection.ErrClosed
	}
	select {
	case s.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

// waitingConn presents a socket whose Send waits for buffer space. The
// pending-queue flush uses it so a long backlog cannot overrun the buffer.
type waitingConn struct {
	*socket
	ctx context.Context
}

func (c waitingConn) Send(v any) error { return c.sendWait(c.ctx, v) }

// reply sends an in-band frame, logging rather than returning failures.
func (s *socket) reply(v any) {
	if err := s.Send(v); err != nil {
		s.logger.Debug("reply dropped", "error", err)
	}
}

// Close stops accepting frames and lets the write pump drain and exit.
func (s *socket) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

// closeWith sends a close frame with code and reason, then closes.
func (s *socket) closeWith(code int, reason string) {
	//nolint:errcheck // best-effort close frame
	s.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(s.pongWait()))
	s.Close()
}

func (s *socket) pingInterval() time.Duration {
	if s.cfg.PingInterval <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.cfg.PingInterval) * time.Second
}

func (s *socket) pongWait() time.Duration {
	if s.cfg.PongTimeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(s.cfg.PongTimeout) * time.Second
}

// readLoop delivers each inbound text frame to handle, in arrival order,
// until the peer goes away.
func (s *socket) readLoop(handle func([]byte)) {
	if s.cfg.MaxMessageSize > 0 {
		s.ws.SetReadLimit(int64(s.cfg.MaxMessageSize))
	}
	deadline := s.pingInterval() + s.pongWait()
	//nolint:errcheck // best-effort deadline
	s.ws.SetReadDeadline(time.Now().Add(deadline))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error", "error", err)
			} else {
				s.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		//nolint:errcheck // any frame counts as liveness
		s.ws.SetReadDeadline(time.Now().Add(deadline))
		handle(data)
	}
}

// writePump owns every data write and pings the peer. It exits once the
// send channel is closed and drained or a write fails.
func (s *socket) writePump() {
	ticker := time.NewTicker(s.pingInterval())
	defer func() {
		ticker.Stop()
		s.ws.Close()
		close(s.done)
	}()

	for {
		select {
		case data, ok := <-s.send:
			if !ok {
				//nolint:errcheck // best-effort close frame
				s.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			//nolint:errcheck // write error caught below
			s.ws.SetWriteDeadline(time.Now().Add(s.pongWait()))
			if err := s.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				s.Close()
				return
			}
		case <-ticker.C:
			//nolint:errcheck // ping error caught below
			s.ws.SetWriteDeadline(time.Now().Add(s.pongWait()))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		}
	}
}

// hub tracks open sockets so shutdown can close them.
type hub struct {
	mu      sync.Mutex
	sockets map[*socket]struct{}
}

func newHub() *hub {
	return &hub{sockets: make(map[*socket]struct{})}
}

func (h *hub) register(s *socket) {
	h.mu.Lock()
	h.sockets[s] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) unregister(s *socket) {
	h.mu.Lock()
	delete(h.sockets, s)
	h.mu.Unlock()
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sockets)
}

// closeAll sends a going-away close to every socket.
func (h *hub) closeAll() {
	h.mu.Lock()
	sockets := make([]*socket, 0, len(h.sockets))
	for s := range h.sockets {
		sockets = append(sockets, s)
	}
	h.mu.Unlock()

	for _, s := range sockets {
		s.closeWith(websocket.CloseGoingAway, "server shutting down")
		s.ws.Close()
	}
}
