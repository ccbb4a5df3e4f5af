package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementReceiverState is the measurement that holds receiver history.
const MeasurementReceiverState = "receiver_state"

// ReceiverState is one receiver observation. Nil pointers and an empty
// source mean the value is unknown and the field is left out of the point.
type ReceiverState struct {
	PowerOn *bool
	Volume  *float64
	Muted   *bool
	Source  string
}

// WriteReceiverState queues a receiver_state point tagged with deviceID.
// Writes are batched and never block; failures go to the SetOnError
// callback. Observations with no known field are dropped.
func (c *Client) WriteReceiverState(deviceID string, state ReceiverState) {
	if !c.IsConnected() {
		return
	}
	point := receiverStatePoint(deviceID, state, time.Now())
	if point == nil {
		return
	}
	c.writer.WritePoint(point)
}

// receiverStatePoint builds the point for state, or nil if nothing is known.
func receiverStatePoint(deviceID string, state ReceiverState, ts time.Time) *write.Point {
	fields := make(map[string]interface{}, 4)
	if state.PowerOn != nil {
		fields["power_on"] = boolToInt(*state.PowerOn)
	}
	if state.Volume != nil {
		fields["volume"] = *state.Volume
	}
	if state.Muted != nil {
		fields["muted"] = boolToInt(*state.Muted)
	}
	if state.Source != "" {
		fields["source"] = state.Source
	}
	if len(fields) == 0 {
		return nil
	}

	return write.NewPoint(
		MeasurementReceiverState,
		map[string]string{"device_id": deviceID},
		fields,
		ts,
	)
}

// boolToInt stores flags as integers so Flux can aggregate them.
func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
