package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/nerrad567/devicelink-core/internal/auth"
	"github.com/nerrad567/devicelink-core/internal/command"
	"github.com/nerrad567/devicelink-core/internal/infrastructure/config"
	"github.com/nerrad567/devicelink-core/internal/infrastructure/logging"
)

// CommandDispatcher is the dispatcher surface the operator channel needs.
type CommandDispatcher interface {
	Dispatch(ctx context.Context, req command.Request) (*command.Result, error)
}

// OperatorAuth verifies operator bearer tokens. A zero value disables
// authentication.
type OperatorAuth = auth.Verifier

// OperatorGateway serves /ws/app.
type OperatorGateway struct {
	dispatcher CommandDispatcher
	auth       OperatorAuth
	cfg        config.WebSocketConfig
	logger     *logging.Logger
	hub        *hub
	now        func() time.Time
}

// NewOperatorGateway creates the operator channel handler.
func NewOperatorGateway(dispatcher CommandDispatcher, authCfg OperatorAuth,
	cfg config.WebSocketConfig, logger *logging.Logger) *OperatorGateway {
	return &OperatorGateway{
		dispatcher: dispatcher,
		auth:       authCfg,
		cfg:        cfg,
		logger:     logger.With("component", "operator-gateway"),
		hub:        newHub(),
		now:        time.Now,
	}
}

// ServeHTTP authenticates, upgrades and runs the operator session.
func (g *OperatorGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	issuedBy, err := g.auth.Authenticate(r)
	if err != nil {
		g.logger.Warn("operator rejected", "error", err, "remote", r.RemoteAddr)
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("operator upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	sock := newSocket(ws, g.cfg, g.logger)
	go sock.writePump()

	log := sock.logger
	if issuedBy != nil {
		log = log.With("user_id", *issuedBy)
	}

	g.hub.register(sock)
	log.Info("operator connected", "remote", r.RemoteAddr)
	defer func() {
		g.hub.unregister(sock)
		sock.Close()
		<-sock.done
		log.Info("operator disconnected")
	}()

	sock.reply(HelloFrame{Type: TypeHello})

	ctx := r.Context()
	sock.readLoop(func(data []byte) { g.handleMessage(ctx, sock, log, issuedBy, data) })
}

func (g *OperatorGateway) handleMessage(ctx context.Context, sock *socket, log *logging.Logger, issuedBy *int64, data []byte) {
	msg, err := decodeOperatorMessage(data)
	switch {
	case errors.Is(err, errBadFrame):
		sock.reply(errorFrame(CodeBadJSON, ""))
		return
	case errors.Is(err, errInvalidTarget):
		sock.reply(errorFrame(CodeInvalidTarget, errInvalidTarget.Error()))
		return
	case errors.Is(err, errUnknownType):
		sock.reply(errorFrame(CodeUnknownType, ""))
		return
	}

	switch m := msg.(type) {
	case PingMessage:
		sock.reply(PongReply{Type: TypePong, T: g.now().UnixMilli()})
	case ControlRequest:
		res, err := g.dispatcher.Dispatch(ctx, command.Request{
			DevicePK: m.DevicePK,
			Payload:  m.Payload,
			IssuedBy: issuedBy,
			Source:   command.SourceAPI,
		})
		switch {
		case errors.Is(err, command.ErrInvalidTarget):
			sock.reply(errorFrame(CodeInvalidTarget, errInvalidTarget.Error()))
		case errors.Is(err, command.ErrInvalidPayload):
			sock.reply(errorFrame(CodeBadJSON, "payload is not valid JSON"))
		case err != nil:
			log.Error("dispatching control", "device_pk", m.DevicePK, "error", err)
			sock.reply(errorFrame(CodeInternal, ""))
		default:
			log.Debug("control dispatched", "device_pk", m.DevicePK, "cmd_id", res.CommandID, "live", res.Live)
			sock.reply(QueuedReply{Type: TypeQueued, DevicePK: res.DevicePK, Live: res.Live, CmdID: res.CommandID})
		}
	}
}

// ConnectionCount returns how many operator sockets are open.
func (g *OperatorGateway) ConnectionCount() int {
	return g.hub.count()
}

// Shutdown closes every operator socket.
func (g *OperatorGateway) Shutdown() {
	g.hub.closeAll()
}
