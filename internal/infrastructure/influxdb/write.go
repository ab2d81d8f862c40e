package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteDeviceMessage records one inbound device message (status or ack).
//
// Every MQTT message a device sends is logged here best-effort; the write
// is non-blocking and batched.
func (c *Client) WriteDeviceMessage(serial, kind string, payload []byte) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_messages",
		map[string]string{
			"serial": serial,
			"kind":   kind,
		},
		map[string]interface{}{
			"payload":       string(payload),
			"payload_bytes": len(payload),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteChannelState records a reconciled channel state value.
func (c *Client) WriteChannelState(serial string, chNo int, on bool) {
	if !c.IsConnected() {
		return
	}

	state := 0
	if on {
		state = 1
	}

	point := write.NewPoint(
		"channel_state",
		map[string]string{
			"serial": serial,
		},
		map[string]interface{}{
			"ch":    chNo,
			"state": state,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
