package events

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/devicelink-core/internal/command"
	"github.com/nerrad567/devicelink-core/internal/infrastructure/mqtt"
)

const defaultBuffer = 512

// Bus is the subset of *mqtt.Client the bridge needs.
type Bus interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Logger is the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// PresenceEvent is published retained on Topics.DevicePresence.
type PresenceEvent struct {
	Online    bool   `json:"online"`
	Timestamp string `json:"timestamp"`
}

// CommandStatusEvent is published on Topics.CommandStatus.
type CommandStatusEvent struct {
	CommandID int64          `json:"command_id"`
	DevicePK  int64          `json:"device_pk"`
	Status    command.Status `json:"status"`
	Source    command.Source `json:"source"`
	Live      *bool          `json:"live,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp string         `json:"timestamp"`
}

type outbound struct {
	topic    string
	payload  []byte
	retained bool
}

// Publisher forwards domain events to the bus from a single goroutine.
type Publisher struct {
	bus    Bus
	topics mqtt.Topics
	qos    byte
	logger Logger
	now    func() time.Time

	queue   chan outbound
	dropped atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPublisher creates a Publisher. Call Start before events arrive.
func NewPublisher(bus Bus, topics mqtt.Topics, qos byte, logger Logger) *Publisher {
	return &Publisher{
		bus:    bus,
		topics: topics,
		qos:    qos,
		logger: logger,
		now:    time.Now,
		queue:  make(chan outbound, defaultBuffer),
	}
}

// Start runs the publish loop until ctx is cancelled or Stop is called.
func (p *Publisher) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		for {
			select {
			case <-ctx.Done():
				p.drain()
				return
			case msg := <-p.queue:
				p.publish(msg)
			}
		}
	}()
}

// Stop publishes what is already queued and waits for the loop to exit.
func (p *Publisher) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Dropped returns how many events were discarded on a full buffer.
func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}

func (p *Publisher) drain() {
	for {
		select {
		case msg := <-p.queue:
			p.publish(msg)
		default:
			return
		}
	}
}

func (p *Publisher) publish(msg outbound) {
	if err := p.bus.Publish(msg.topic, msg.payload, p.qos, msg.retained); err != nil {
		p.logger.Warn("event publish failed", "topic", msg.topic, "error", err)
	}
}

func (p *Publisher) enqueue(topic string, v any, retained bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		p.logger.Error("encoding event", "topic", topic, "error", err)
		return
	}
	select {
	case p.queue <- outbound{topic: topic, payload: payload, retained: retained}:
	default:
		p.dropped.Add(1)
		p.logger.Warn("event buffer full, dropping", "topic", topic)
	}
}

func (p *Publisher) timestamp() string {
	return p.now().UTC().Format(time.RFC3339)
}

// DeviceOnline implements connection.Observer.
func (p *Publisher) DeviceOnline(devicePK int64) {
	p.enqueue(p.topics.DevicePresence(devicePK), PresenceEvent{Online: true, Timestamp: p.timestamp()}, true)
}

// DeviceOffline implements connection.Observer.
func (p *Publisher) DeviceOffline(devicePK int64) {
	p.enqueue(p.topics.DevicePresence(devicePK), PresenceEvent{Online: false, Timestamp: p.timestamp()}, true)
}

// CommandDispatched implements command.Observer.
func (p *Publisher) CommandDispatched(cmd *command.Command, res *command.Result) {
	ev := p.statusEvent(cmd)
	live := res.Live
	ev.Live = &live
	p.enqueue(p.topics.CommandStatus(cmd.ID), ev, false)
}

// CommandUpdated implements command.Observer.
func (p *Publisher) CommandUpdated(cmd *command.Command) {
	p.enqueue(p.topics.CommandStatus(cmd.ID), p.statusEvent(cmd), false)
}

func (p *Publisher) statusEvent(cmd *command.Command) CommandStatusEvent {
	return CommandStatusEvent{
		CommandID: cmd.ID,
		DevicePK:  cmd.DevicePK,
		Status:    cmd.Status,
		Source:    cmd.Source,
		Error:     cmd.Error,
		Timestamp: p.timestamp(),
	}
}
