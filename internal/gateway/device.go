package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/devicelink-core/internal/connection"
	"github.com/nerrad567/devicelink-core/internal/device"
	"github.com/nerrad567/devicelink-core/internal/infrastructure/config"
	"github.com/nerrad567/devicelink-core/internal/infrastructure/logging"
)

// Resolver turns a handshake into logical devices.
type Resolver interface {
	Resolve(ctx context.Context, hs device.Handshake) (*device.Resolution, error)
}

// Binder maps device ids to live connections.
type Binder interface {
	Bind(c connection.Conn, ids []int64)
	Unbind(c connection.Conn, ids []int64) []int64
}

// DeviceDispatcher is the dispatcher surface the device channel needs.
type DeviceDispatcher interface {
	FlushPending(ctx context.Context, conn connection.Conn, devicePKs ...int64) (int, error)
	Acknowledge(ctx context.Context, id int64, ok bool, errText string) (bool, error)
}

// DeviceGateway serves /ws/device.
type DeviceGateway struct {
	resolver   Resolver
	registry   Binder
	dispatcher DeviceDispatcher
	cfg        config.WebSocketConfig
	logger     *logging.Logger
	hub        *hub
}

// NewDeviceGateway creates the device channel handler.
func NewDeviceGateway(resolver Resolver, registry Binder, dispatcher DeviceDispatcher,
	cfg config.WebSocketConfig, logger *logging.Logger) *DeviceGateway {
	return &DeviceGateway{
		resolver:   resolver,
		registry:   registry,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger.With("component", "device-gateway"),
		hub:        newHub(),
	}
}

// handshakeFromQuery reads the handshake parameters. Non-numeric home and
// room ids are treated as absent.
func handshakeFromQuery(r *http.Request) device.Handshake {
	q := r.URL.Query()
	return device.Handshake{
		DeviceID: strings.TrimSpace(q.Get("device_id")),
		Secret:   q.Get("device_secret"),
		HomeID:   optionalID(q.Get("home_id")),
		RoomID:   optionalID(q.Get("room_id")),
		Nickname: strings.TrimSpace(q.Get("nickname")),
	}
}

func optionalID(s string) *int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

// closeCodeFor maps a resolver error to a close code and reason.
func closeCodeFor(err error) (int, string) {
	switch {
	case errors.Is(err, device.ErrMissingCredentials):
		return CloseMissingCredentials, "missing credentials"
	case errors.Is(err, device.ErrMalformedIdentity):
		return CloseBadDeviceID, "bad device id"
	case errors.Is(err, device.ErrSecretMismatch):
		return CloseInvalidCredentials, "invalid credentials"
	default:
		return websocket.CloseInternalServerErr, "internal"
	}
}

// ServeHTTP upgrades the request and runs the device session until the
// socket closes.
func (g *DeviceGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hs := handshakeFromQuery(r)

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("device upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	sock := newSocket(ws, g.cfg, g.logger)
	go sock.writePump()
	defer func() { <-sock.done }()

	if hs.DeviceID == "" || hs.Secret == "" {
		sock.closeWith(CloseMissingCredentials, "missing credentials")
		return
	}

	ctx := r.Context()
	res, err := g.resolver.Resolve(ctx, hs)
	if err != nil {
		code, reason := closeCodeFor(err)
		if code == websocket.CloseInternalServerErr {
			g.logger.Error("device handshake failed", "device_id", hs.DeviceID, "error", err)
		} else {
			g.logger.Warn("device handshake rejected", "device_id", hs.DeviceID, "reason", reason)
		}
		sock.closeWith(code, reason)
		return
	}

	ids := res.IDs()
	log := sock.logger.With("device_id", hs.DeviceID, "group_uid", res.GroupUID)

	g.hub.register(sock)
	g.registry.Bind(sock, ids)
	log.Info("device connected", "device_pks", ids)
	defer func() {
		removed := g.registry.Unbind(sock, ids)
		g.hub.unregister(sock)
		sock.Close()
		log.Info("device disconnected", "unbound", removed)
	}()

	// Commands queued for any sub-device of the group arrive on this socket,
	// oldest first.
	if n, err := g.dispatcher.FlushPending(ctx, waitingConn{socket: sock, ctx: ctx}, ids...); err != nil {
		log.Error("flushing pending commands", "device_pks", ids, "error", err)
	} else if n > 0 {
		log.Debug("pending commands delivered", "count", n)
	}

	sock.readLoop(func(data []byte) { g.handleMessage(ctx, sock, log, data) })
}

func (g *DeviceGateway) handleMessage(ctx context.Context, sock *socket, log *logging.Logger, data []byte) {
	msg, err := decodeDeviceMessage(data)
	switch {
	case errors.Is(err, errBadFrame):
		sock.reply(errorFrame(CodeBadJSON, ""))
		return
	case errors.Is(err, errUnknownType):
		sock.reply(errorFrame(CodeUnknownType, ""))
		return
	}

	switch m := msg.(type) {
	case AckMessage:
		if m.CommandID == 0 {
			return
		}
		changed, err := g.dispatcher.Acknowledge(ctx, m.CommandID, m.OK, m.Error)
		if err != nil {
			log.Error("recording ack", "cmd_id", m.CommandID, "error", err)
			return
		}
		log.Debug("ack received", "cmd_id", m.CommandID, "ok", m.OK, "applied", changed)
	case ShadowMessage:
		// Reserved; state shadows are not stored yet.
	}
}

// ConnectionCount returns how many device sockets are bound.
func (g *DeviceGateway) ConnectionCount() int {
	return g.hub.count()
}

// Shutdown closes every device socket.
func (g *DeviceGateway) Shutdown() {
	g.hub.closeAll()
}
