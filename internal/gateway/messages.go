package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Frame types.
const (
	TypeAck     = "ack"
	TypeShadow  = "shadow"
	TypeControl = "control"
	TypePing    = "ping"
	TypePong    = "pong"
	TypeHello   = "hello"
	TypeQueued  = "queued"
	TypeError   = "error"
)

// Error codes carried by error frames.
const (
	CodeBadJSON       = "BAD_JSON"
	CodeUnknownType   = "UNKNOWN_TYPE"
	CodeInvalidTarget = "INVALID_TARGET"
	CodeInternal      = "INTERNAL"
)

// Close codes for failed device handshakes.
const (
	CloseMissingCredentials = 4401
	CloseBadDeviceID        = 4400
	CloseInvalidCredentials = 4403
)

var (
	errBadFrame      = errors.New("unparsable frame")
	errUnknownType   = errors.New("unknown message type")
	errInvalidTarget = errors.New("device_pk must be a positive integer")
)

// ErrorFrame is sent in-band; the connection stays open.
type ErrorFrame struct {
	Type   string `json:"type"`
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

func errorFrame(code, detail string) ErrorFrame {
	return ErrorFrame{Type: TypeError, Code: code, Detail: detail}
}

// envelope is the common shape of every inbound frame.
type envelope struct {
	Type     string          `json:"type"`
	MsgID    json.RawMessage `json:"msg_id"`
	OK       bool            `json:"ok"`
	Error    string          `json:"error"`
	State    json.RawMessage `json:"state"`
	DevicePK json.RawMessage `json:"device_pk"`
	Payload  json.RawMessage `json:"payload"`
}

// DeviceMessage is a frame a device sends: AckMessage or ShadowMessage.
type DeviceMessage interface{ deviceMessage() }

// AckMessage answers a control frame. CommandID is zero when msg_id was
// missing or not numeric.
type AckMessage struct {
	CommandID int64
	OK        bool
	Error     string
}

// ShadowMessage reports device state. It is accepted and not acted on.
type ShadowMessage struct {
	State json.RawMessage
}

func (AckMessage) deviceMessage()    {}
func (ShadowMessage) deviceMessage() {}

// decodeDeviceMessage parses a device frame.
func decodeDeviceMessage(data []byte) (DeviceMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errBadFrame
	}
	switch env.Type {
	case TypeAck:
		id, _ := parsePositiveInt(env.MsgID) //nolint:errcheck // non-numeric ids are ignored
		return AckMessage{CommandID: id, OK: env.OK, Error: env.Error}, nil
	case TypeShadow:
		return ShadowMessage{State: env.State}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownType, env.Type)
	}
}

// OperatorMessage is a frame an operator sends: PingMessage or ControlRequest.
type OperatorMessage interface{ operatorMessage() }

// PingMessage asks for a pong.
type PingMessage struct{}

// ControlRequest asks for Payload to be delivered to DevicePK.
type ControlRequest struct {
	DevicePK int64
	Payload  json.RawMessage
}

func (PingMessage) operatorMessage()    {}
func (ControlRequest) operatorMessage() {}

// decodeOperatorMessage parses an operator frame. device_pk may be a JSON
// number or a numeric string.
func decodeOperatorMessage(data []byte) (OperatorMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errBadFrame
	}
	switch env.Type {
	case TypePing:
		return PingMessage{}, nil
	case TypeControl:
		pk, err := parsePositiveInt(env.DevicePK)
		if err != nil {
			return nil, errInvalidTarget
		}
		payload := env.Payload
		if isNull(payload) {
			payload = nil
		}
		return ControlRequest{DevicePK: pk, Payload: payload}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownType, env.Type)
	}
}

// parsePositiveInt accepts an integral JSON number or a string holding one.
func parsePositiveInt(raw json.RawMessage) (int64, error) {
	if isNull(raw) {
		return 0, errInvalidTarget
	}

	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, errInvalidTarget
		}
		s = strings.TrimSpace(s)
	} else {
		s = string(raw)
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n <= 0 {
			return 0, errInvalidTarget
		}
		return n, nil
	}
	// 7.0 and 7e0 are integral too.
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 || f != math.Trunc(f) || f >= math.MaxInt64 {
		return 0, errInvalidTarget
	}
	return int64(f), nil
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// QueuedReply tells an operator how a control request was delivered.
type QueuedReply struct {
	Type     string `json:"type"`
	DevicePK int64  `json:"device_pk"`
	Live     bool   `json:"live"`
	CmdID    int64  `json:"cmd_id"`
}

// PongReply answers a ping with the server time in unix milliseconds.
type PongReply struct {
	Type string `json:"type"`
	T    int64  `json:"t"`
}

// HelloFrame greets a new operator connection.
type HelloFrame struct {
	Type string `json:"type"`
}
