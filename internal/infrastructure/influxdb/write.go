package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementCommands    = "commands"
	MeasurementCommandAcks = "command_acks"
)

// WriteCommand records one dispatch. outcome is "live" or "queued".
func (c *Client) WriteCommand(devicePK int64, source, outcome string, at time.Time) {
	c.WritePoint(MeasurementCommands,
		map[string]string{
			"device_pk": strconv.FormatInt(devicePK, 10),
			"source":    source,
			"outcome":   outcome,
		},
		map[string]interface{}{"count": 1},
		at)
}

// WriteAck records a device acknowledgement and how long it took to arrive.
func (c *Client) WriteAck(devicePK int64, status string, latency time.Duration, at time.Time) {
	c.WritePoint(MeasurementCommandAcks,
		map[string]string{
			"device_pk": strconv.FormatInt(devicePK, 10),
			"status":    status,
		},
		map[string]interface{}{"latency_ms": latency.Milliseconds()},
		at)
}

// WritePoint queues a point. Points written after Close are dropped.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
