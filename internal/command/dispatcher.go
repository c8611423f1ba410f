package command

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/devicelink-core/internal/connection"
)

// Default delivery parameters.
const (
	DefaultPendingTTL = 10 * time.Minute
	DefaultFlushLimit = 50
)

// Locator finds the live connection serving a device.
type Locator interface {
	Lookup(devicePK int64) (connection.Conn, bool)
}

// Dispatcher routes commands to live connections or the pending queue.
// It never waits for device acknowledgements.
type Dispatcher struct {
	log        LogStore
	queue      PendingQueue
	conns      Locator
	pendingTTL time.Duration
	flushLimit int
	observers  []Observer
	logger     Logger
	now        func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPendingTTL sets how long a queued command stays deliverable.
func WithPendingTTL(d time.Duration) Option {
	return func(x *Dispatcher) {
		if d > 0 {
			x.pendingTTL = d
		}
	}
}

// WithFlushLimit sets how many pending commands FlushPending loads per batch.
func WithFlushLimit(n int) Option {
	return func(x *Dispatcher) {
		if n > 0 {
			x.flushLimit = n
		}
	}
}

// WithObserver adds an observer of dispatch and status events.
func WithObserver(o Observer) Option {
	return func(x *Dispatcher) { x.observers = append(x.observers, o) }
}

// WithLogger sets the dispatcher logger.
func WithLogger(l Logger) Option {
	return func(x *Dispatcher) { x.logger = l }
}

// WithClock overrides time.Now. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(x *Dispatcher) { x.now = now }
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(log LogStore, queue PendingQueue, conns Locator, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		log:        log,
		queue:      queue,
		conns:      conns,
		pendingTTL: DefaultPendingTTL,
		flushLimit: DefaultFlushLimit,
		logger:     noopLogger{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch records req in the command log and then delivers it live or
// queues it. The log entry exists before any send or enqueue; if it cannot
// be written ErrDispatchPersistence is returned and nothing is sent.
//
// A frame accepted by a connection that dies before writing it is lost;
// the command stays sent until acked or swept to timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Result, error) {
	if req.DevicePK <= 0 {
		return nil, fmt.Errorf("%w: device_pk must be a positive integer", ErrInvalidTarget)
	}
	if !req.Source.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSource, req.Source)
	}
	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if !json.Valid(payload) {
		return nil, ErrInvalidPayload
	}

	cmd := &Command{
		DevicePK:  req.DevicePK,
		IssuedBy:  req.IssuedBy,
		Source:    req.Source,
		Payload:   payload,
		Status:    StatusSent,
		CreatedAt: d.now().UTC(),
	}
	if err := d.log.Append(ctx, cmd); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDispatchPersistence, err)
	}

	if conn, ok := d.conns.Lookup(req.DevicePK); ok && conn.Open() {
		err := conn.Send(NewControlMessage(payload, cmd.ID, 0))
		if err == nil {
			res := &Result{CommandID: cmd.ID, DevicePK: req.DevicePK, Live: true}
			d.logger.Debug("command sent live", "command_id", cmd.ID, "device_pk", req.DevicePK, "conn", conn.ID())
			d.notifyDispatched(cmd, res)
			return res, nil
		}
		// The frame never left the process, so queueing it is safe.
		d.logger.Warn("live send failed, queueing", "command_id", cmd.ID, "device_pk", req.DevicePK, "error", err)
	}

	return d.enqueue(ctx, cmd)
}

// enqueue marks cmd queued and stores it for the next handshake.
func (d *Dispatcher) enqueue(ctx context.Context, cmd *Command) (*Result, error) {
	// Mark queued first: a handshake racing with this call may flush the
	// entry the moment it exists and move the command back to sent.
	if updated, err := d.log.Transition(ctx, cmd.ID, StatusQueued, "", StatusSent); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDispatchPersistence, err)
	} else if updated != nil {
		cmd = updated
	}

	now := d.now()
	entry := &PendingEntry{
		DevicePK:  cmd.DevicePK,
		CommandID: cmd.ID,
		Payload:   cmd.Payload,
		CreatedAt: now,
		ExpireAt:  now.Add(d.pendingTTL),
	}
	if err := d.queue.Enqueue(ctx, entry); err != nil {
		if _, terr := d.log.Transition(ctx, cmd.ID, StatusFailed, "queue unavailable", StatusQueued); terr != nil {
			d.logger.Error("marking unqueued command failed", "command_id", cmd.ID, "error", terr)
		}
		return nil, fmt.Errorf("%w: %w", ErrDispatchPersistence, err)
	}

	res := &Result{CommandID: cmd.ID, DevicePK: cmd.DevicePK, Live: false, QueueID: entry.ID}
	d.logger.Debug("command queued", "command_id", cmd.ID, "device_pk", cmd.DevicePK, "queue_id", entry.ID)
	d.notifyDispatched(cmd, res)
	return res, nil
}

// IsConnected reports whether devicePK has an open live connection.
func (d *Dispatcher) IsConnected(devicePK int64) bool {
	conn, ok := d.conns.Lookup(devicePK)
	return ok && conn.Open()
}

// Acknowledge applies a device ack to command id. ok=false records failure
// with errText, or DefaultDeviceError when empty. It reports whether the
// command changed; unknown ids and commands already acked or failed are
// left alone.
func (d *Dispatcher) Acknowledge(ctx context.Context, id int64, ok bool, errText string) (bool, error) {
	to := StatusAck
	if ok {
		errText = ""
	} else {
		to = StatusFailed
		if errText == "" {
			errText = DefaultDeviceError
		}
	}

	cmd, err := d.log.Transition(ctx, id, to, errText, StatusSent, StatusQueued, StatusTimeout)
	if err != nil {
		return false, fmt.Errorf("recording ack for command %d: %w", id, err)
	}
	if cmd == nil {
		return false, nil
	}
	d.notifyUpdated(cmd)
	return true, nil
}

// FlushPending delivers every unexpired queued command addressed to any of
// devicePKs to conn, oldest first. Entries are loaded in batches of the
// flush limit and each batch is deleted once its frames are handed to conn.
//
// Sending stops at the first failure. Entries conn accepted are deleted and
// never retried; the entry that failed and everything after it stay queued
// for the next handshake or the expiry sweep. It returns how many frames conn
// accepted.
func (d *Dispatcher) FlushPending(ctx context.Context, conn connection.Conn, devicePKs ...int64) (int, error) {
	total := 0
	for {
		entries, err := d.queue.Fetch(ctx, devicePKs, d.now(), d.flushLimit)
		if err != nil {
			return total, err
		}
		if len(entries) == 0 {
			break
		}

		sent, sendErr := d.sendBatch(ctx, conn, entries)
		total += len(sent)
		if err := d.queue.Delete(ctx, sent); err != nil {
			return total, err
		}
		if sendErr != nil {
			d.logger.Warn("flush interrupted", "device_pks", devicePKs, "sent", total,
				"queue_id", entries[len(sent)].ID, "error", sendErr)
			return total, nil
		}
	}

	if total > 0 {
		d.logger.Info("pending commands flushed", "device_pks", devicePKs, "sent", total)
	}
	return total, nil
}

// sendBatch sends entries in order and returns the queue ids conn accepted,
// stopping at the first send error.
func (d *Dispatcher) sendBatch(ctx context.Context, conn connection.Conn, entries []PendingEntry) ([]int64, error) {
	sent := make([]int64, 0, len(entries))
	for _, e := range entries {
		if err := conn.Send(NewControlMessage(e.Payload, e.CommandID, e.ID)); err != nil {
			return sent, err
		}
		sent = append(sent, e.ID)
		if e.CommandID <= 0 {
			continue
		}
		cmd, err := d.log.Transition(ctx, e.CommandID, StatusSent, "", StatusQueued)
		if err != nil {
			d.logger.Warn("marking flushed command sent", "command_id", e.CommandID, "error", err)
		} else if cmd != nil {
			d.notifyUpdated(cmd)
		}
	}
	return sent, nil
}

func (d *Dispatcher) notifyDispatched(cmd *Command, res *Result) {
	for _, o := range d.observers {
		o.CommandDispatched(cmd, res)
	}
}

func (d *Dispatcher) notifyUpdated(cmd *Command) {
	for _, o := range d.observers {
		o.CommandUpdated(cmd)
	}
}
