package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/devicelink-core/internal/command"
	"github.com/nerrad567/devicelink-core/internal/infrastructure/mqtt"
)

const dispatchTimeout = 10 * time.Second

var errBadControlTopic = errors.New("events: control topic must end in a positive device id")

// Dispatcher delivers commands. Satisfied by *command.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, req command.Request) (*command.Result, error)
}

// ControlRequest is the body of a message on Topics.Control.
type ControlRequest struct {
	Payload  json.RawMessage `json:"payload"`
	IssuedBy *int64          `json:"issued_by,omitempty"`
}

// Ingress feeds control requests from the bus into the dispatcher.
type Ingress struct {
	bus    Bus
	topics mqtt.Topics
	qos    byte
	disp   Dispatcher
	logger Logger
	ctx    context.Context
}

// NewIngress creates an Ingress. Nothing is subscribed until Start.
func NewIngress(bus Bus, topics mqtt.Topics, qos byte, disp Dispatcher, logger Logger) *Ingress {
	return &Ingress{bus: bus, topics: topics, qos: qos, disp: disp, logger: logger, ctx: context.Background()}
}

// Start subscribes to the control wildcard. Dispatches derive from ctx.
func (in *Ingress) Start(ctx context.Context) error {
	in.ctx = ctx
	if err := in.bus.Subscribe(in.topics.ControlWildcard(), in.qos, in.handle); err != nil {
		return fmt.Errorf("subscribing to control requests: %w", err)
	}
	in.logger.Info("automation ingress listening", "topic", in.topics.ControlWildcard())
	return nil
}

// Stop unsubscribes. Errors are logged; the broker may already be gone.
func (in *Ingress) Stop() {
	if err := in.bus.Unsubscribe(in.topics.ControlWildcard()); err != nil {
		in.logger.Debug("unsubscribing control requests", "error", err)
	}
}

func (in *Ingress) handle(topic string, body []byte) error {
	devicePK, ok := in.topics.ParseControl(topic)
	if !ok {
		return fmt.Errorf("%w: %q", errBadControlTopic, topic)
	}

	var req ControlRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("decoding control request: %w", err)
	}
	if string(req.Payload) == "null" {
		req.Payload = nil
	}

	ctx, cancel := context.WithTimeout(in.ctx, dispatchTimeout)
	defer cancel()

	res, err := in.disp.Dispatch(ctx, command.Request{
		DevicePK: devicePK,
		Payload:  req.Payload,
		IssuedBy: req.IssuedBy,
		Source:   command.SourceAutomation,
	})
	if err != nil {
		return fmt.Errorf("dispatching automation command for device %d: %w", devicePK, err)
	}
	in.logger.Debug("automation command dispatched", "device_pk", devicePK, "command_id", res.CommandID, "live", res.Live)
	return nil
}
