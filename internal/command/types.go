package command

import (
	"encoding/json"
	"strconv"
	"time"
)

// Status is the delivery state of a command.
type Status string

// Command statuses.
const (
	StatusSent    Status = "sent"
	StatusQueued  Status = "queued"
	StatusAck     Status = "ack"
	StatusFailed  Status = "failed"
	StatusTimeout Status = "timeout"
)

// Terminal reports whether the device has answered.
func (s Status) Terminal() bool {
	return s == StatusAck || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusSent, StatusQueued, StatusAck, StatusFailed, StatusTimeout:
		return true
	}
	return false
}

// Source identifies who produced a command.
type Source string

// Command sources.
const (
	SourceAPI        Source = "api"
	SourceSchedule   Source = "schedule"
	SourceAutomation Source = "automation"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceAPI, SourceSchedule, SourceAutomation:
		return true
	}
	return false
}

// DefaultDeviceError is recorded when a device reports failure without a reason.
const DefaultDeviceError = "device error"

// Command is one entry of the command log.
type Command struct {
	ID        int64           `json:"id"`
	DevicePK  int64           `json:"device_pk"`
	IssuedBy  *int64          `json:"issued_by"`
	Source    Source          `json:"source"`
	Payload   json.RawMessage `json:"payload"`
	Status    Status          `json:"status"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	AckAt     *time.Time      `json:"ack_at,omitempty"`
}

// PendingEntry is a command waiting for its device to connect.
type PendingEntry struct {
	ID        int64
	DevicePK  int64
	CommandID int64 // 0 when the entry has no log entry
	Payload   json.RawMessage
	CreatedAt time.Time
	ExpireAt  time.Time
}

// Request asks the dispatcher to deliver Payload to DevicePK.
type Request struct {
	DevicePK int64
	Payload  json.RawMessage
	IssuedBy *int64
	Source   Source
}

// Result reports which path a dispatched command took.
type Result struct {
	CommandID int64 `json:"cmd_id"`
	DevicePK  int64 `json:"device_pk"`
	Live      bool  `json:"live"`
	QueueID   int64 `json:"queue_id,omitempty"`
}

// ControlMessage is the server→device control frame.
type ControlMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	MsgID   string          `json:"msg_id,omitempty"`
	QueueID string          `json:"queue_id,omitempty"`
}

// MessageTypeControl tags ControlMessage frames.
const MessageTypeControl = "control"

// NewControlMessage builds a control frame. msg_id carries the command log
// id the device must echo in its ack; queue_id is set for flushed entries.
func NewControlMessage(payload json.RawMessage, commandID, queueID int64) ControlMessage {
	m := ControlMessage{Type: MessageTypeControl, Payload: payload}
	if commandID > 0 {
		m.MsgID = strconv.FormatInt(commandID, 10)
	}
	if queueID > 0 {
		m.QueueID = strconv.FormatInt(queueID, 10)
	}
	return m
}

// Filter selects commands for List.
type Filter struct {
	DevicePK int64  // optional
	Status   Status // optional
	Source   Source // optional
	Limit    int    // default 50, max 200
	Offset   int
}

// ListResult is one page of commands.
type ListResult struct {
	Commands []Command `json:"commands"`
	Total    int       `json:"total"`
	Limit    int       `json:"limit"`
	Offset   int       `json:"offset"`
}

// Observer is told about command bookkeeping, for metrics and events.
// Implementations must not block.
type Observer interface {
	CommandDispatched(cmd *Command, res *Result)
	CommandUpdated(cmd *Command)
}

// Logger is the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
