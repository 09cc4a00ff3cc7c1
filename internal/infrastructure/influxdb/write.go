package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	MeasurementExchange   = "hyperion_exchange"
	MeasurementConnection = "hyperion_connection"
)

// RecordExchange writes one command/response exchange. It satisfies the
// Hyperion client's Recorder interface and never blocks.
//
// Example point:
//
//	hyperion_exchange,command=color,outcome=ok duration_ms=3.2
func (c *Client) RecordExchange(command string, duration time.Duration, outcome string) {
	c.WritePointWithTime(MeasurementExchange,
		map[string]string{
			"command": command,
			"outcome": outcome,
		},
		map[string]any{
			"duration_ms": float64(duration) / float64(time.Millisecond),
		},
		time.Now())
}

// RecordConnection writes a connection state transition.
func (c *Client) RecordConnection(state, address, reason string) {
	fields := map[string]any{"address": address}
	if reason != "" {
		fields["reason"] = reason
	}
	c.WritePointWithTime(MeasurementConnection,
		map[string]string{"state": state},
		fields,
		time.Now())
}

// WritePoint writes a point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a point with an explicit timestamp.
// Dropped silently when the client is closed.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, ts))
}
