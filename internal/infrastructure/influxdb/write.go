package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementDelivery = "transport_delivery"
	MeasurementPosition = "actuator_position"
)

// RecordDelivery writes one delivery attempt: which transport carried it,
// whether it succeeded and how long it took. Used by the transport router
// to chart local versus cloud reliability per device.
func (c *Client) RecordDelivery(deviceID, transport string, success bool, latency time.Duration) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(deliveryPoint(deviceID, transport, success, latency, time.Now()))
}

// RecordPosition writes an actuator's estimated position and target.
func (c *Client) RecordPosition(deviceID string, position float64, target int, mode string) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(positionPoint(deviceID, position, target, mode, time.Now()))
}

func deliveryPoint(deviceID, transport string, success bool, latency time.Duration, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementDelivery,
		map[string]string{
			"device_id": deviceID,
			"transport": transport,
		},
		map[string]interface{}{
			"success":    success,
			"latency_ms": float64(latency) / float64(time.Millisecond),
		},
		at,
	)
}

func positionPoint(deviceID string, position float64, target int, mode string, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementPosition,
		map[string]string{
			"device_id": deviceID,
			"mode":      mode,
		},
		map[string]interface{}{
			"position": position,
			"target":   target,
		},
		at,
	)
}
