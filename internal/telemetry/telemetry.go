// Package telemetry records command outcomes as InfluxDB points.
package telemetry

import (
	"time"

	"github.com/nerrad567/devicelink-core/internal/command"
)

// Writer is satisfied by *influxdb.Client.
type Writer interface {
	WriteCommand(devicePK int64, source, outcome string, at time.Time)
	WriteAck(devicePK int64, status string, latency time.Duration, at time.Time)
}

// Recorder implements command.Observer. The influx write API batches
// internally, so calls return immediately.
type Recorder struct {
	w Writer
}

// NewRecorder wraps w.
func NewRecorder(w Writer) *Recorder {
	return &Recorder{w: w}
}

// CommandDispatched writes a "commands" point tagged live or queued.
func (r *Recorder) CommandDispatched(cmd *command.Command, res *command.Result) {
	outcome := "queued"
	if res.Live {
		outcome = "live"
	}
	r.w.WriteCommand(cmd.DevicePK, string(cmd.Source), outcome, cmd.CreatedAt)
}

// CommandUpdated writes a "command_acks" point for device answers.
// Flushes and timeouts are not acks and are skipped.
func (r *Recorder) CommandUpdated(cmd *command.Command) {
	if cmd.Status != command.StatusAck && cmd.Status != command.StatusFailed {
		return
	}
	at := cmd.UpdatedAt
	if cmd.AckAt != nil {
		at = *cmd.AckAt
	}
	latency := at.Sub(cmd.CreatedAt)
	if latency < 0 {
		latency = 0
	}
	r.w.WriteAck(cmd.DevicePK, string(cmd.Status), latency, at)
}
